package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"pagebatch/internal/batch"
	"pagebatch/internal/bootstrap"
	"pagebatch/internal/http/handlers"
	httpapi "pagebatch/internal/http/httpapi"
	"pagebatch/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer stores.Close()

	processor, err := bootstrap.NewProcessor(ctx, cfg, stores, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build vision processor")
	}
	if !processor.Configured() {
		logger.Warn().Str("provider", cfg.VisionProvider).Msg("no vision API key configured, page processing will fail until one is set")
	}

	orchestrator, err := batch.NewOrchestrator(stores.Jobs, stores.Results, processor, batch.Options{
		Delay:  cfg.BatchItemDelay,
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build orchestrator")
	}
	query, err := batch.NewQuery(stores.Jobs, stores.Results)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build query service")
	}

	// Jobs a crashed process left in processing have no payloads any more.
	recovered, err := orchestrator.RecoverInterrupted(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to recover interrupted jobs")
	} else if len(recovered) > 0 {
		logger.Info().Ints64("job_ids", recovered).Msg("interrupted jobs paused")
	}

	spool, err := bootstrap.NewPageSpool(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open page spool")
	}

	app := &handlers.App{
		Jobs:         stores.Jobs,
		Orchestrator: orchestrator,
		Query:        query,
		Processor:    processor,
		Spool:        spool,
		Limits:       handlers.LimitsFromConfig(cfg),
		Logger:       logger,
		RunContext:   ctx,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:             logger,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMin,
		DefaultLocale:      language.English,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("model", processor.Model()).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Background runs observe ctx and pause their jobs before returning.
	waited := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("batch runs still in flight at exit")
	}
	logger.Info().Msg("server stopped")
}
