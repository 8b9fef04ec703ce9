package main

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/varoOP/stripcache/internal/config"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/logger"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stripcache",
	Short: "A caching resolver for daily comic strips",
	Long: `Stripcache resolves comic strips by date, keeps their metadata in a
bounded cache backed by SQLite, Postgres, Redis or memory, and serves them
over a small JSON API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console or json)")
	rootCmd.PersistentFlags().String("store", "sqlite", "store backend (sqlite, postgres, redis, memory)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in home directory and current directory
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables
	config.BindEnv(viper.GetViper())

	// If a config file is found, read it in and follow log level changes.
	if err := viper.ReadInConfig(); err == nil {
		log := logger.NewLogger()
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("Using config file")

		viper.OnConfigChange(func(e fsnotify.Event) {
			level := viper.GetString("log_level")
			if err := logger.SetGlobalLevel(level); err != nil {
				log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring config change")
				return
			}
			log.Info().Str("file", e.Name).Str("log_level", level).Msg("Config file changed")
		})
		viper.WatchConfig()
	}
}

// setup loads the merged configuration and builds the logger for a command.
func setup() (*domain.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, log, nil
}
