package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"urlrisk/internal/config"
	"urlrisk/internal/scanner"
	"urlrisk/pkg/logger"
)

// enqueueCommand registers a scan for a URL through the enqueue service. The
// scan is processed by the background workers of a running scan command; if a
// fresh completed result already exists it is returned immediately.
func enqueueCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue [url]",
		Short: "Registers a background scan for a URL",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			strg, closeStrg := getPostgres(ctx, cfg)
			defer closeStrg()

			svc := scanner.New(strg, scanner.NewOptions(cfg))
			scan, err := svc.Enqueue(ctx, args[0])
			if err != nil {
				logger.Fatal(ctx, "could not enqueue scan", zap.Error(err))
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(scan); err != nil {
				logger.Fatal(ctx, "could not encode scan", zap.Error(err))
			}
		},
	}

	return cmd
}
