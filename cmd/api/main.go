package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bgremover/internal/capability"
	"bgremover/internal/http/handlers"
	httpapi "bgremover/internal/http/httpapi"
	"bgremover/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// The server always runs the embedded variant; the remote variants are
	// clients of this process.
	remover, err := capability.New(capability.Config{
		Backend:   capability.BackendEmbedded,
		Workers:   cfg.RemovalWorkers,
		Tolerance: cfg.RemovalTolerance,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build remover")
	}

	app := handlers.NewApp(cfg, remover, logger)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router, logger)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Int("workers", cfg.RemovalWorkers).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := remover.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close remover")
	}
	logger.Info().Msg("server stopped")
}
