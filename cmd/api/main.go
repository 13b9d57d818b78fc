package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"forge3d/internal/domain"
	"forge3d/internal/evaluate"
	"forge3d/internal/http/handlers"
	"forge3d/internal/http/httpapi"
	"forge3d/internal/infra"
	"forge3d/internal/infra/geoip"
	"forge3d/internal/jobstore"
	"forge3d/internal/middleware"
	"forge3d/internal/orchestrate"
	"forge3d/internal/providers/meshy"
	"forge3d/internal/providers/synthetic"
	"forge3d/internal/scheduler"
	"forge3d/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	artifacts, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "artifacts"))
	if err != nil {
		logger.Fatal().Err(err).Msg("init artifact store")
	}

	store, cleanup, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init job store")
	}
	defer cleanup()

	provider, err := selectProvider(cfg, logger, artifacts)
	if err != nil {
		logger.Fatal().Err(err).Msg("init provider")
	}

	orch, err := orchestrate.New(orchestrate.Options{
		Store:       store,
		Provider:    provider,
		Evaluator:   evaluate.New(),
		Logger:      &logger,
		BaseContext: ctx,
		Config: orchestrate.Config{
			MaxPromptChars: cfg.MaxPromptChars,
			MaxUploadBytes: cfg.MaxUploadBytes,
			RatePerSec:     cfg.ProviderRatePerSec,
			Poll: scheduler.Config{
				InitialInterval: cfg.PollInitialDelay,
				Multiplier:      cfg.PollMultiplier,
				MaxInterval:     cfg.PollMaxDelay,
				Deadline:        cfg.PollDeadline,
			},
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init orchestrator")
	}

	var lookup middleware.CountryLookup
	if resolver, err := geoip.NewResolver(cfg.GeoIPDBPath); err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	app := handlers.NewApp(orch, artifacts, logger, cfg.MaxUploadBytes)
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		SubmitRatePerMin: cfg.HTTPRatePerMin,
		CountryLookup:    lookup,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown http server")
	}
	if err := orch.Wait(shutdownCtx); err != nil {
		logger.Warn().Msg("abandoning in-flight jobs")
	}
	logger.Info().Msg("server stopped")
}

// openJobStore selects the durable store: Postgres when DATABASE_URL is set,
// the file-backed store otherwise.
func openJobStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.JobStore, func(), error) {
	if cfg.DatabaseURL == "" {
		store, err := jobstore.OpenFile(filepath.Join(cfg.DataDir, "jobs"))
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("using file-backed job store")
		return store, func() {}, nil
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := jobstore.NewPostgres(infra.NewSQLRunner(pool, logger))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info().Msg("using postgres job store")
	return store, pool.Close, nil
}

// selectProvider picks the live Meshy client when an API key is configured
// and the deterministic synthesizer otherwise.
func selectProvider(cfg *infra.Config, logger infra.Logger, artifacts *storage.FileStore) (domain.Generator, error) {
	if cfg.MeshyAPIKey != "" {
		logger.Info().Msg("using meshy provider")
		return meshy.NewClient(meshy.Options{
			APIKey:  cfg.MeshyAPIKey,
			BaseURL: cfg.MeshyBaseURL,
			Logger:  &logger,
			Store:   artifacts,
		})
	}
	logger.Info().Msg("no provider api key set, using synthetic provider")
	return synthetic.New(synthetic.Options{Logger: &logger, Store: artifacts})
}
