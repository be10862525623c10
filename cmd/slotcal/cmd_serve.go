package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/gateway"
	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/web"
)

const shutdownTimeout = 10 * time.Second

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the feed cache warmer",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	appLog.Info("slotcal starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"ics_count", len(cfg.ICS),
		"database", cfg.Database.Backend,
		"shared_lock", cfg.Redis.Addr != "",
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := web.NewServer(web.Deps{
		Config:    cfg,
		Generator: a.generator,
		Busy:      a.busy,
		Bookings:  a.bookings,
		Metrics:   a.metrics.Handler(),
	})
	if err != nil {
		return err
	}

	warmer := gateway.NewWarmer(a.fetcher, a.sources, cfg.RefreshCron, cfg.GatewayTimeout())
	warmer.Start(ctx)
	defer warmer.Stop()

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err)
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
		return err
	}

	appLog.Info("slotcal exiting")
	return nil
}
