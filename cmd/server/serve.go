package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thereceipt/pos-hardware/internal/api"
)

func newServeCmd() *cobra.Command {
	var flagShutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer st.close(flagShutdownTimeout)

			if res := st.hw.Initialize(cmd.Context()); !res.Success {
				return errors.Errorf("initialize hardware: %s", res.Error)
			}

			server := api.NewServer(st.hw)
			serverErr := make(chan error, 1)
			go func() {
				serverErr <- server.Run(cfg.Addr)
			}()

			log.Info().Str("version", Version).Str("addr", cfg.Addr).Msg("pos-hardware started")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-serverErr:
				if err != nil {
					return errors.Wrap(err, "api server")
				}
				return nil
			case <-ctx.Done():
				log.Info().Msg("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), flagShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("api server shutdown failed")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&flagShutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to wait for in-flight work on exit")

	return cmd
}
