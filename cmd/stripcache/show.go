package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/varoOP/stripcache/internal/app"
	"github.com/varoOP/stripcache/internal/resolver"
	"gopkg.in/yaml.v3"
)

var showDelta int

var showCmd = &cobra.Command{
	Use:   "show [date|latest|random|first]",
	Short: "Resolve one comic and print it",
	Long: `Resolve a comic through the cache and print its view as YAML.
A date (YYYY-MM-DD) can be combined with --delta to move relative to it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var target string
		if len(args) > 0 {
			target = args[0]
		}

		req, err := resolver.ParseRequest(target, showDelta)
		if err != nil {
			return err
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}

		a, err := app.NewApp(cmd.Context(), cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		defer a.Close()

		view, err := a.Resolve(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", req.Kind, err)
		}

		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		enc.SetIndent(2)

		return enc.Encode(view)
	},
}

func init() {
	showCmd.Flags().IntVar(&showDelta, "delta", 0, "days to move from the given date")

	rootCmd.AddCommand(showCmd)
}
