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

	"github.com/gin-gonic/gin"
	"github.com/pevans/flatwatch/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		listen   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll sites on a schedule and serve a status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval == 0 {
				interval = a.settings.PollInterval
			}
			if listen == "" {
				listen = a.settings.Listen
			}
			return a.runServe(cmd, interval, listen)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "time between scrape passes (default from configuration)")
	cmd.Flags().StringVar(&listen, "listen", "", "status API listen address (default from configuration)")

	return cmd
}

func (a *app) runServe(cmd *cobra.Command, interval time.Duration, listen string) error {
	if interval < time.Minute {
		return fmt.Errorf("interval must be at least 1m, got %s", interval)
	}

	loaded, err := a.loadSites()
	if err != nil {
		return err
	}
	if len(loaded.Sites) == 0 {
		return fmt.Errorf("no site configurations found in %s", a.settings.SitesDir)
	}

	svc, st, hist, cleanup, err := a.newService(loaded.Sites, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.settings.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              listen,
		Handler:           api.NewServer(svc, st, hist, a.logger).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("status API listening", zap.String("addr", listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- svc.Run(ctx, interval)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("status API failed", zap.Error(err))
			svc.Stop()
			<-runDone
			return fmt.Errorf("status API: %w", err)
		}
	}

	a.logger.Info("shutting down")
	svc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shut down status API", zap.Error(err))
	}

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
