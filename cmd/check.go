package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"urlrisk/internal/config"
	"urlrisk/internal/pipeline"
	"urlrisk/internal/scanner"
	"urlrisk/pkg/logger"
)

// checkCommand runs the scoring pipeline once for a single URL, without
// touching the database or the job queue, and prints the verdict as JSON.
func checkCommand(cfg *config.Config) *cobra.Command {
	var skipScreenshot, skipTLS, skipWHOIS, skipStage2 bool

	cmd := &cobra.Command{
		Use:   "check [url]",
		Short: "Scans a single URL synchronously and prints the verdict",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			URL, err := scanner.NormalizeURL(args[0])
			if err != nil {
				logger.Fatal(ctx, "invalid URL", zap.Error(err))
			}

			pl := buildPipeline(ctx, cfg)

			res := pl.Scan(ctx, pipeline.Request{
				ScanID:         uuid.NewString(),
				URL:            URL,
				SkipScreenshot: skipScreenshot,
				SkipTLS:        skipTLS,
				SkipWHOIS:      skipWHOIS,
				SkipStage2:     skipStage2,
			})

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				logger.Fatal(ctx, "could not encode result", zap.Error(err))
			}
		},
	}

	cmd.Flags().BoolVar(&skipScreenshot, "skip-screenshot", false, "skip the headless browser screenshot")
	cmd.Flags().BoolVar(&skipTLS, "skip-tls", false, "skip TLS certificate collection")
	cmd.Flags().BoolVar(&skipWHOIS, "skip-whois", false, "skip the WHOIS lookup")
	cmd.Flags().BoolVar(&skipStage2, "skip-stage2", false, "skip the content model even on low confidence")

	return cmd
}
