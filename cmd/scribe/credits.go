package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benefitpress/scribe/pkg/config"
	"github.com/benefitpress/scribe/pkg/credits"
	"github.com/benefitpress/scribe/pkg/models"
)

func newCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and grant credit balances",
	}
	cmd.AddCommand(newCreditsShowCmd(), newCreditsGrantCmd())
	return cmd
}

func openCreditStore(configPath string) (*credits.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return credits.NewStore(cfg.CreditsDB)
}

func parseOwner(ownerType, ownerID string) (*models.Owner, error) {
	if ownerType == "" && ownerID == "" {
		return nil, nil
	}
	o, err := models.NewOwner(models.OwnerType(ownerType), ownerID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func newCreditsShowCmd() *cobra.Command {
	var (
		configPath string
		ownerType  string
		ownerID    string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show credit balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCreditStore(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			owner, err := parseOwner(ownerType, ownerID)
			if err != nil {
				return err
			}

			balances, err := store.List(context.Background(), owner)
			if err != nil {
				return err
			}
			if len(balances) == 0 {
				fmt.Println("No balances found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OWNER\tKIND\tBALANCE\tUPDATED")
			for _, b := range balances {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					b.Owner, b.Kind, b.Balance, b.UpdatedAt.Format("2006-01-02T15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "scribe.yaml", "path to config file")
	cmd.Flags().StringVar(&ownerType, "owner-type", "", "filter by owner type (user|organization)")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "filter by owner id")
	return cmd
}

func newCreditsGrantCmd() *cobra.Command {
	var (
		configPath string
		ownerType  string
		ownerID    string
		kind       string
		amount     int64
	)

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Add credits to a balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := models.NewOwner(models.OwnerType(ownerType), ownerID)
			if err != nil {
				return err
			}
			creditKind := models.CreditKind(kind)
			if !creditKind.Valid() {
				return fmt.Errorf("invalid credit kind %q", kind)
			}
			if amount <= 0 {
				return fmt.Errorf("amount must be positive")
			}

			store, err := openCreditStore(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			balance, err := store.Grant(context.Background(), owner, creditKind, amount)
			if err != nil {
				return err
			}
			fmt.Printf("%s now has %d %s credits\n", owner, balance, creditKind)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "scribe.yaml", "path to config file")
	cmd.Flags().StringVar(&ownerType, "owner-type", "", "owner type (user|organization)")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner id")
	cmd.Flags().StringVar(&kind, "kind", string(models.KindAIToken), "credit kind")
	cmd.Flags().Int64Var(&amount, "amount", 0, "credits to add")
	return cmd
}
