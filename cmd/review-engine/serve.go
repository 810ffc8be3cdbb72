// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/review-engine/internal/secrets"
	"github.com/pdiddy/review-engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and event stream",
	Long: `Serve the review session over HTTP. Uploads, model selection, stage jobs,
citation statistics and exports are under /api; progress and streamed text
arrive on /api/events as server-sent events. /metrics exposes Prometheus
counters.

When the secrets directory holds an api-token file, every /api request
must carry "Authorization: Bearer <token>".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:5000)")
	serveCmd.Flags().String("model", "", "model to select at startup")
	serveCmd.Flags().String("token", "", "bearer token for /api (default: api-token secret)")
	_ = viper.BindPFlag("server.address", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("llm.model", serveCmd.Flags().Lookup("model"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.selectStartupModel(ctx, cfg.LLM.Model)

	token, _ := cmd.Flags().GetString("token")
	srv := server.New(cfg.Server, server.Deps{
		Orchestrator: a.orch,
		Pool:         a.pool,
		Exemplars:    a.exemplars,
		Models:       a.client,
		Bus:          a.bus,
		Store:        a.store,
		Metrics:      a.metrics,
		Export:       cfg.Export,
		Token:        loadedSecrets.Get(secrets.APIToken, token),
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Closing the bus ends open event streams so Shutdown is not held by them.
	closeErr := a.orch.Close(shutdownCtx)
	a.bus.Close()
	shutdownErr := srv.Shutdown(shutdownCtx)
	return errors.Join(err, closeErr, shutdownErr, a.store.Close())
}
