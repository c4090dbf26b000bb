package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/civicpulse/backend/internal/ai"
	"github.com/civicpulse/backend/internal/analytics"
	"github.com/civicpulse/backend/internal/config"
	"github.com/civicpulse/backend/internal/db"
	"github.com/civicpulse/backend/internal/geocode"
	httpapi "github.com/civicpulse/backend/internal/http"
	"github.com/civicpulse/backend/internal/jobs"
	"github.com/civicpulse/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "civicpulse-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	// Without an inference endpoint the classifier gets the deterministic
	// mock, while the matcher gets a nil client so deduplication runs on
	// token similarity instead of the mock's unconditional no-match.
	var classifyClient, compareClient ai.Client
	if cfg.InferenceBaseURL == "" {
		classifyClient = ai.MockClient{}
		logger.Info().Msg("no inference endpoint: mock classifier, token-similarity matcher")
	} else {
		client := &ai.OpenAICompatClient{
			BaseURL: cfg.InferenceBaseURL,
			Model:   cfg.InferenceModel,
			APIKey:  cfg.InferenceAPIKey,
		}
		classifyClient = client
		compareClient = client
	}

	retry := service.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}
	classifier := service.NewClassifier(classifyClient, retry, logger)
	matcher := service.NewMatcher(compareClient, retry, cfg.MatchThreshold, cfg.MaxCandidates, logger)

	var geocoder geocode.Geocoder
	if cfg.GeocodeBaseURL != "" {
		geocoder = &geocode.NominatimGeocoder{
			BaseURL:   cfg.GeocodeBaseURL,
			UserAgent: cfg.GeocodeUserAgent,
		}
	}

	pipeline := service.NewPipeline(store, classifier, matcher, logger)
	pipeline.Geocoder = geocoder
	pipeline.AreaRadiusKm = cfg.AreaRadiusKm
	pipeline.Workers = cfg.TriageWorkers

	policy := service.SLAPolicy{
		Critical: time.Duration(cfg.SLACriticalHours) * time.Hour,
		Default:  time.Duration(cfg.SLADefaultHours) * time.Hour,
	}
	tracker := service.NewSLATracker(store, policy, logger)
	engine := analytics.NewEngine(store, logger)

	scheduler := jobs.NewScheduler(pipeline, tracker, engine, store, logger)
	if err := scheduler.Start(cfg.DedupCron, cfg.SLACron, cfg.ScoresCron); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer scheduler.Stop()

	router := httpapi.Router(cfg, store, pipeline, tracker, engine, scheduler, geocoder, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
