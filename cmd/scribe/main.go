package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "scribe",
		Short:   "Scribe — credit-metered AI article generation for benefits content",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newCreditsCmd(),
		newLogCmd(),
		newArticlesCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
