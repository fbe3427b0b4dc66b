package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thereceipt/pos-hardware/internal/config"
)

// Version is set during build via ldflags
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "pos-hardware",
	Short:   "Local bridge between a POS web app and receipt printers, scanners and USB peripherals",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(cfg.LogLevel)
		if path := config.LoadedPath(); path != "" {
			log.Debug().Str("path", path).Msg("loaded .env")
		}
		return nil
	},
	SilenceUsage: true,
}

var (
	flagAddr     string
	flagLogLevel string
	flagCodePage string
	flagPolicy   string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "API listen address (default from "+config.EnvAddr+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (default from "+config.EnvLogLevel+")")
	rootCmd.PersistentFlags().StringVar(&flagCodePage, "code-page", "", "Printer code page for rendered receipts (default from "+config.EnvCodePage+")")
	rootCmd.PersistentFlags().StringVar(&flagPolicy, "disconnect-policy", "", "finish or abort the in-flight job on disconnect (default from "+config.EnvDisconnectPolicy+")")
	rootCmd.AddCommand(
		newServeCmd(),
		newDevicesCmd(),
		newTestPrintCmd(),
		newJournalCmd(),
	)
	_ = config.LoadDotEnv()
}

// loadConfig reads the environment and applies the persistent flags on top
func loadConfig() (config.Config, error) {
	if flagLogLevel != "" {
		os.Setenv(config.EnvLogLevel, flagLogLevel)
	}
	if flagPolicy != "" {
		os.Setenv(config.EnvDisconnectPolicy, flagPolicy)
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if flagAddr != "" {
		cfg.Addr = flagAddr
	}
	if flagCodePage != "" {
		cfg.CodePage = flagCodePage
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("pos-hardware command failed")
	}
}
