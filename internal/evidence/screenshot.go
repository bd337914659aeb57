package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// screenshotter captures a PNG of the rendered page. Narrow type so tests can
// substitute a stub instead of launching a browser.
type screenshotter func(ctx context.Context, targetURL, userAgent string) ([]byte, error)

// captureScreenshot renders the target in a headless browser and captures the
// viewport. One browser per capture keeps state isolation between scans;
// throughput is bounded upstream by the worker pool.
func captureScreenshot(ctx context.Context, targetURL, userAgent string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-sandbox", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var png []byte
	err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(1280, 800),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(time.Second), // let late-loading scripts settle
		chromedp.CaptureScreenshot(&png),
	)
	if err != nil {
		return nil, fmt.Errorf("could not capture screenshot: %w", err)
	}

	return png, nil
}
