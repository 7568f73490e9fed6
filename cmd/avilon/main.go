package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simsketch/avilonai.com/internal/app"
	"github.com/simsketch/avilonai.com/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger comes from Build, so config failures go straight to stderr.
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx := context.Background()
	result, err := app.Build(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("startup error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			result.Logger.Error().Err(err).Msg("cleanup failed")
		}
	}()

	log := result.Logger
	log.Info().
		Str("voice_provider", result.Voice.Provider).
		Str("voice_detail", result.Voice.Detail).
		Bool("rooms_enabled", result.Rooms != nil).
		Msg("service built")

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	result.Sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
