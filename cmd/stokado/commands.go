package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/celo-org/stokado/pkg/stokado/api"
	"github.com/celo-org/stokado/pkg/stokado/config"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload authorization HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.WithEnv())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			logger := cfg.NewLogger(os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			awsCfg, err := cfg.BuildAWS(ctx)
			if err != nil {
				return err
			}
			authorizer, closeAll, err := cfg.BuildAuthorizer(ctx, awsCfg, logger)
			if err != nil {
				return err
			}
			defer closeAll()

			httpServer := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           api.NewRouter(authorizer, logger, api.WithRequestTimeout(cfg.RequestTimeout)),
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Stokado server starting",
					"port", cfg.Port,
					"storage_backend", cfg.Storage.Backend,
					"signature_scheme", cfg.Chain.SignatureScheme,
				)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			logger.Info("Server exiting")
			return nil
		},
	}
}

func NewFlushWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush-worker",
		Short: "Consume storage notifications and invalidate CDN paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.WithEnv())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.ValidateFlush(); err != nil {
				return err
			}
			logger := cfg.NewLogger(os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			awsCfg, err := cfg.BuildAWS(ctx)
			if err != nil {
				return err
			}
			consumer, err := cfg.BuildConsumer(awsCfg, logger)
			if err != nil {
				return err
			}
			return consumer.Run(ctx)
		},
	}
}
