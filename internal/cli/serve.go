package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/config"
	"github.com/lazypower/tiermem/internal/logging"
	"github.com/lazypower/tiermem/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, location, err := openDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	eng := newEngine(db, cfg, log)
	if n, err := db.ResetProcessing(); err != nil {
		log.Warn("reset processing flags", zap.Error(err))
	} else if n > 0 {
		log.Info("cleared stale processing flags", zap.Int("entities", n))
	}

	srv := server.New(db, eng, VersionString(),
		server.WithLogger(log),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
	)
	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info("tiermem serving", zap.String("addr", addr), zap.String("db", location))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
