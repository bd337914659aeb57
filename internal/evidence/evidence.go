// Package evidence collects the structured evidence bundle for a reachable
// target: HTML/DOM summary, DNS records, WHOIS, TLS certificate descriptor,
// and optionally a screenshot. Every sub-collection is independently
// time-boxed; a failure in one leaves its field absent and is recorded in
// Missing, never aborting the others. The bundle is owned by a single scan
// and read-only once collected.
package evidence

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"urlrisk/internal/probe"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
)

// Bundle aggregates all evidence for one scan. Partial population is legal:
// categories that depend on an absent field report "Unable to Analyze".
type Bundle struct {
	// URL is the canonical target.
	URL *url.URL
	// RegistrableDomain is the eTLD+1 of the host, e.g. "example.co.uk".
	RegistrableDomain string

	// Page summarizes the fetched HTML document; nil when unreachable or failed.
	Page *PageSummary
	// DNS holds the resolved record set; nil when resolution failed outright.
	DNS *DNSRecords
	// WHOIS holds registration data; nil when the lookup failed or was skipped.
	WHOIS *WHOISRecord
	// TLS describes the served certificate; nil for plain HTTP or on failure.
	TLS *CertInfo
	// Screenshot is a PNG capture of the rendered page, when enabled.
	Screenshot []byte

	// Missing names the sub-collections that could not be gathered.
	Missing []string
	// CollectedAt is when collection finished.
	CollectedAt time.Time
}

// DomainAge returns the age of the domain registration, and whether it is known.
func (b *Bundle) DomainAge(now time.Time) (time.Duration, bool) {
	if b.WHOIS == nil || b.WHOIS.CreatedAt.IsZero() {
		return 0, false
	}

	return now.Sub(b.WHOIS.CreatedAt), true
}

// Options configure the collector.
type Options struct {
	// SubTimeout bounds each sub-collection except WHOIS and screenshots.
	SubTimeout time.Duration
	// WHOISTimeout bounds the WHOIS lookup.
	WHOISTimeout time.Duration
	// EnableScreenshot turns on headless browser capture.
	EnableScreenshot bool
	// ScreenshotTimeout bounds the browser session.
	ScreenshotTimeout time.Duration
	// UserAgent for any outbound request made during collection.
	UserAgent string
}

// Skip carries per-scan collection overrides. A skipped section is simply
// absent; it is not recorded in Missing.
type Skip struct {
	Screenshot bool
	TLS        bool
	WHOIS      bool
}

// Collector gathers evidence bundles. Safe for concurrent use.
type Collector struct {
	opts  Options
	whois *WHOISClient
	shot  screenshotter
}

// New creates a Collector.
func New(opts Options) *Collector {
	if opts.SubTimeout <= 0 {
		opts.SubTimeout = 5 * time.Second
	}
	if opts.WHOISTimeout <= 0 {
		opts.WHOISTimeout = 5 * time.Second
	}
	if opts.ScreenshotTimeout <= 0 {
		opts.ScreenshotTimeout = 15 * time.Second
	}

	c := &Collector{
		opts:  opts,
		whois: NewWHOISClient(opts.WHOISTimeout),
	}
	if opts.EnableScreenshot {
		c.shot = captureScreenshot
	}

	return c
}

// Collect builds the evidence bundle for the target. The probe's final page
// is reused so the target is not fetched twice; when the reachability state
// does not permit fetching, content-dependent fields stay nil and only
// passive records (DNS, WHOIS) are collected.
func (c *Collector) Collect(ctx context.Context,
	target *url.URL,
	reach domain.Reachability,
	page *probe.Page,
	skip Skip) *Bundle {
	b := &Bundle{URL: target}

	host := target.Hostname()
	if reg, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		b.RegistrableDomain = reg
	} else {
		b.RegistrableDomain = host
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	miss := func(section string) {
		mu.Lock()
		b.Missing = append(b.Missing, section)
		mu.Unlock()
	}

	// HTML summary from the already fetched page.
	if reach.Fetchable() && page != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := SummarizePage(page)
			if err != nil {
				logger.Debug(ctx, "could not summarize page", zap.Error(err))
				miss("html")

				return
			}
			b.Page = summary
		}()

		// TLS descriptor: prefer the probe's connection state, dial otherwise.
		if !skip.TLS {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tctx, cancel := context.WithTimeout(ctx, c.opts.SubTimeout)
				defer cancel()
				info, err := DescribeTLS(tctx, target, page.TLS)
				if err != nil {
					logger.Debug(ctx, "could not describe TLS", zap.Error(err))
					miss("tls")

					return
				}
				b.TLS = info
			}()
		}

		if c.shot != nil && !skip.Screenshot {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sctx, cancel := context.WithTimeout(ctx, c.opts.ScreenshotTimeout)
				defer cancel()
				png, err := c.shot(sctx, target.String(), c.opts.UserAgent)
				if err != nil {
					logger.Debug(ctx, "could not capture screenshot", zap.Error(err))
					miss("screenshot")

					return
				}
				b.Screenshot = png
			}()
		}
	}

	// Passive collections run for every state; OFFLINE domains often still
	// carry MX/NS records and a WHOIS history worth scoring.
	wg.Add(1)
	go func() {
		defer wg.Done()
		dctx, cancel := context.WithTimeout(ctx, c.opts.SubTimeout)
		defer cancel()
		records, err := ResolveRecords(dctx, host, b.RegistrableDomain)
		if err != nil {
			logger.Debug(ctx, "could not resolve DNS records", zap.Error(err))
			miss("dns")

			return
		}
		b.DNS = records
	}()

	if !skip.WHOIS {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wctx, cancel := context.WithTimeout(ctx, c.opts.WHOISTimeout)
			defer cancel()
			rec, err := c.whois.Lookup(wctx, b.RegistrableDomain)
			if err != nil {
				logger.Debug(ctx, "could not look up WHOIS", zap.Error(err))
				miss("whois")

				return
			}
			b.WHOIS = rec
		}()
	}

	wg.Wait()
	b.CollectedAt = time.Now()

	return b
}
