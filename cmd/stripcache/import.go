package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/varoOP/stripcache/internal/app"
)

var importCmd = &cobra.Command{
	Use:   "import-pages <dir>",
	Short: "Seed the cache from saved source pages",
	Long: `Walk a directory of previously saved source pages named YYYY-MM-DD.html
and store every comic found in them. Pages without image dimensions are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		a, err := app.NewApp(cmd.Context(), cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		defer a.Close()

		stats, err := a.ImportPages(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("\n✓ Import complete!\n")
		fmt.Printf("  Imported: %d\n", stats.Imported)
		fmt.Printf("  Skipped:  %d\n", stats.Skipped)
		fmt.Printf("  Errors:   %d\n\n", stats.Errors)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
