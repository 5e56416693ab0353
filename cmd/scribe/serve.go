package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benefitpress/scribe/pkg/config"
	"github.com/benefitpress/scribe/pkg/content"
	"github.com/benefitpress/scribe/pkg/credits"
	"github.com/benefitpress/scribe/pkg/generate"
	"github.com/benefitpress/scribe/pkg/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Scribe API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := content.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init content store: %w", err)
			}
			defer func() { _ = store.Close() }()

			balances, err := credits.NewStore(cfg.CreditsDB)
			if err != nil {
				return fmt.Errorf("init credit store: %w", err)
			}
			defer func() { _ = balances.Close() }()

			guard := credits.NewGuard(balances)
			client := generate.NewClient(cfg.Upstream.URL, cfg.Upstream.APIKey)
			orch := generate.NewOrchestrator(client, store, guard, generate.Options{
				Model:          cfg.Upstream.Model,
				CreditCost:     cfg.Generation.CreditCost,
				WatermarkBytes: cfg.Generation.WatermarkBytes,
				Timeout:        cfg.Upstream.Timeout,
				HistoryDepth:   cfg.Generation.HistoryDepth,
			})

			srv := server.New(cfg, store, balances, guard, orch)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("starting scribe with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "scribe.yaml", "path to config file")
	return cmd
}
