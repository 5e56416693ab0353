package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benefitpress/scribe/pkg/config"
	"github.com/benefitpress/scribe/pkg/content"
)

func newArticlesCmd() *cobra.Command {
	var (
		configPath     string
		organizationID string
		articleID      string
	)

	cmd := &cobra.Command{
		Use:   "articles",
		Short: "List articles and their translations",
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

			// Translation detail view
			if articleID != "" {
				translations, err := store.ListTranslations(ctx, articleID)
				if err != nil {
					return err
				}
				if len(translations) == 0 {
					fmt.Println("No translations found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "LANGUAGE\tTITLE\tUPDATED")
				for _, tr := range translations {
					title := tr.Title
					if title == "" {
						title = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", tr.Language, title, tr.UpdatedAt.Format("2006-01-02T15:04:05"))
				}
				return w.Flush()
			}

			articles, err := store.ListArticles(ctx, organizationID)
			if err != nil {
				return err
			}
			if len(articles) == 0 {
				fmt.Println("No articles found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tORGANIZATION\tAUTHOR\tSLUG\tCREATED")
			for _, a := range articles {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					a.ID, a.OrganizationID, a.AuthorID, a.Slug, a.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "scribe.yaml", "path to config file")
	cmd.Flags().StringVar(&organizationID, "org", "", "filter by organization id")
	cmd.Flags().StringVar(&articleID, "article", "", "show translations of one article")
	return cmd
}
