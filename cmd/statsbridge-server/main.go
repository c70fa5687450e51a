package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var src configSource
	flag.StringVar(&src.File, "config", os.Getenv("STATSBRIDGE_CONFIG_FILE"), "path to a JSON config file")
	flag.StringVar(&src.Profile, "profile", os.Getenv("STATSBRIDGE_PROFILE"), "named config profile (development, testing, staging, production)")
	flag.Parse()

	ctx := context.Background()
	app, cleanup, err := BuildApp(ctx, src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config

	slog.Info("starting statsbridge server",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"app_id", cfg.Session.AppID,
		"user_id", cfg.Session.UserID,
		"backend", cfg.Backend.Adapter)

	srv := app.Server
	errCh := make(chan error, 2)

	go func() {
		slog.Info("server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if ms := app.Metrics.Server; ms != nil {
		go func() {
			slog.Info("metrics listening", "address", ms.Addr, "path", cfg.Metrics.Path)
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-quit:
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		exitCode = 1
	}

	slog.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
		exitCode = 1
	}
	if ms := app.Metrics.Server; ms != nil {
		if err := ms.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during metrics shutdown", "error", err)
			exitCode = 1
		}
	}

	for _, b := range app.Activity.Boards() {
		slog.Info("leaderboard activity",
			"leaderboard", b.Name,
			"uploads", b.Uploads,
			"improvements", b.Improvements,
			"best_rank", b.BestRank)
	}
	slog.Info("server stopped")
	if exitCode != 0 {
		cancel()
		cleanup()
		os.Exit(exitCode)
	}
}
