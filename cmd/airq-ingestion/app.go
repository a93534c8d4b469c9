package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/airq/load"
	"github.com/i474232898/airq-ingestion/internal/airq/openaq"
	"github.com/i474232898/airq-ingestion/internal/airq/transform"
	"github.com/i474232898/airq-ingestion/internal/config"
	"github.com/i474232898/airq-ingestion/internal/logging"
	"github.com/i474232898/airq-ingestion/internal/metrics"
	"github.com/i474232898/airq-ingestion/internal/pipeline"
	"github.com/i474232898/airq-ingestion/internal/store"
)

const appName = "airq-ingestion"

// app holds the process-wide components, built once from configuration.
type app struct {
	cfg *config.AppConfig
	log *zap.Logger
	db  *store.DB

	fetcher     *openaq.Fetcher
	transformer *transform.Transformer
	loader      *load.Loader
	runner      *pipeline.Runner
	metrics     *metrics.Metrics
	history     *store.RunHistory
}

// newApp builds every component, including the database pool.
func newApp(ctx context.Context) (*app, error) {
	a, err := newStages()
	if err != nil {
		return nil, err
	}

	policy, err := pipeline.PolicyFromConfig(a.cfg.Hourly)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("hourly policy: %w", err), a.close())
	}

	db, err := store.Open(ctx, a.cfg.DB, a.log)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("connect database: %w", err), a.close())
	}

	a.db = db
	a.loader = load.New(a.cfg.CleanDir(), a.log)
	a.metrics = metrics.New()
	a.history = store.NewRunHistory(a.cfg.RunHistoryMax, a.cfg.RunHistoryMaxAge)
	a.runner = pipeline.New(pipeline.Deps{
		Fetcher:     a.fetcher,
		Transformer: a.transformer,
		Loader:      a.loader,
		OpenSession: a.openSession,
		Metrics:     a.metrics,
		History:     a.history,
	}, policy, a.log)
	return a, nil
}

// newStages builds the fetch and transform stages only. They work on the
// API and the data directory, so no database connection is made.
func newStages() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg, appName)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	// Shared HTTP client for outbound API calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	fetcher, err := openaq.NewFetcher(httpClient, openaq.Config{
		BaseURL: cfg.APIBaseURL,
		APIKey:  cfg.APIKey,
		RawDir:  cfg.RawDir(),
		Backoff: openaq.BackoffConfig{
			MaxRetries:      cfg.Fetch.MaxRetries,
			InitialInterval: cfg.Fetch.InitialBackoff,
			MaxInterval:     cfg.Fetch.MaxBackoff,
		},
	}, log)
	if err != nil {
		return nil, err
	}

	transformer, err := transform.New(cfg.RawDir(), cfg.CleanDir(), log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:         cfg,
		log:         log,
		fetcher:     fetcher,
		transformer: transformer,
	}, nil
}

func (a *app) openSession(ctx context.Context) (pipeline.Session, error) {
	s, err := a.db.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
	}
	return multierr.Append(err, ignoreSyncError(a.log.Sync()))
}

// ignoreSyncError drops the EINVAL zap reports when stderr is a terminal.
func ignoreSyncError(err error) error {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
