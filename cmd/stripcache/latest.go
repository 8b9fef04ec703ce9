package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/varoOP/stripcache/internal/app"
	"github.com/varoOP/stripcache/internal/domain"
)

var latestRefresh bool

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the latest published comic date",
	Long: `Print the latest comic date known to the store, revalidating it against
the source when it is stale or when --refresh is given.`,
	Args: cobra.NoArgs,
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

		latest, err := a.Latest(cmd.Context(), latestRefresh)
		if err != nil {
			return fmt.Errorf("failed to determine latest comic: %w", err)
		}

		fmt.Println(domain.FormatDate(latest))
		return nil
	},
}

func init() {
	latestCmd.Flags().BoolVar(&latestRefresh, "refresh", false, "revalidate against the source even when fresh")

	rootCmd.AddCommand(latestCmd)
}
