package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/varoOP/stripcache/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the comic API",
	Long: `Serve the JSON comic API, the health check and Prometheus metrics.
The latest comic date is revalidated in the background on the configured interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.NewApp(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		defer a.Close()

		log.Info().
			Str("version", version).
			Str("listen_addr", cfg.ListenAddr).
			Str("store", string(cfg.Store.Backend)).
			Msg("Starting stripcache")

		if err := a.Serve(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", ":8080", "address for the HTTP API")
	viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen-addr"))

	rootCmd.AddCommand(serveCmd)
}
