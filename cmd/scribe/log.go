package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benefitpress/scribe/pkg/config"
	"github.com/benefitpress/scribe/pkg/content"
	"github.com/benefitpress/scribe/pkg/models"
)

func newLogCmd() *cobra.Command {
	var (
		configPath    string
		translationID string
		userID        string
		since         string
		limit         int
		cleanup       bool
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query the generation log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := content.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()

			if cleanup {
				deleted, err := store.Cleanup(ctx, cfg.Log.RetentionDays)
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d entries older than %d days.\n", deleted, cfg.Log.RetentionDays)
				return nil
			}

			opts := models.GenerationQueryOpts{
				TranslationID: translationID,
				UserID:        userID,
				Limit:         limit,
			}
			if since != "" {
				ts, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since, want RFC3339: %w", err)
				}
				opts.Since = ts
			}

			entries, err := store.QueryGenerations(ctx, opts)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No generation log entries found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTRANSLATION\tUSER\tMODEL\tTOKENS\tCOMPLETE\tLATENCY")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%v\t%dms\n",
					e.CreatedAt.Format("2006-01-02T15:04:05"),
					e.TranslationID, e.UserID, e.Model, e.TokensUsed, e.Complete, e.LatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "scribe.yaml", "path to config file")
	cmd.Flags().StringVar(&translationID, "translation", "", "filter by translation id")
	cmd.Flags().StringVar(&userID, "user", "", "filter by user id")
	cmd.Flags().StringVar(&since, "since", "", "only entries at or after this RFC3339 time")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "delete entries past the retention window")
	return cmd
}
