package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"notice_ingest/internal/clock"
	"notice_ingest/internal/config"
	"notice_ingest/internal/domain"
	"notice_ingest/internal/fetcher"
	"notice_ingest/internal/publisher"
	"notice_ingest/internal/scorer"
	"notice_ingest/internal/service"
	"notice_ingest/internal/source"
	"notice_ingest/internal/storage/memory"
	"notice_ingest/internal/storage/postgres"
	"notice_ingest/internal/storage/sqlite"
	"notice_ingest/internal/storage/txn"
)

type incidentStore interface {
	service.IncidentSink
	List(ctx context.Context, filter domain.IncidentFilter) ([]domain.Incident, error)
}

type stores struct {
	incidents  incidentStore
	watermarks service.WatermarkStore
	txManager  service.TransactionManager
	db         *sqlx.DB
}

func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// openStores connects the configured backend and brings its schema up to
// date. dryRun forces the in-memory backend.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*stores, error) {
	driver := cfg.Storage.Driver
	if dryRun {
		driver = config.DriverMemory
	}

	switch driver {
	case config.DriverMemory:
		return &stores{
			incidents:  memory.NewIncidentStore(),
			watermarks: memory.NewWatermarkStore(),
			txManager:  memory.NewTransactionManager(),
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite database", "path", cfg.Storage.SQLitePath)
		return &stores{
			incidents:  sqlite.NewIncidentStore(db),
			watermarks: sqlite.NewWatermarkStore(db),
			txManager:  txn.NewManager(db),
			db:         db,
		}, nil

	case config.DriverPostgres:
		db, err := connectPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if _, err := postgres.Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
		return &stores{
			incidents:  postgres.NewIncidentStore(db),
			watermarks: postgres.NewWatermarkStore(db),
			txManager:  txn.NewManager(db),
			db:         db,
		}, nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

func connectPostgres(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// openPublisher returns nil when RabbitMQ is not configured or in dry runs.
func openPublisher(cfg *config.Config, logger *slog.Logger, dryRun bool) (*publisher.RabbitMQ, error) {
	if dryRun || !cfg.RabbitMQ.Enabled() {
		return nil, nil
	}
	return publisher.NewRabbitMQ(publisher.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
}

type pipeline struct {
	orchestrator *service.Orchestrator
	stores       *stores
	publisher    *publisher.RabbitMQ
}

func (p *pipeline) Close() error {
	var errs []error
	if p.publisher != nil {
		errs = append(errs, p.publisher.Close())
	}
	errs = append(errs, p.stores.Close())
	return errors.Join(errs...)
}

func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*pipeline, error) {
	st, err := openStores(ctx, cfg, logger, dryRun)
	if err != nil {
		return nil, err
	}

	pub, err := openPublisher(cfg, logger, dryRun)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	clk := clock.Real()
	f := fetcher.New(fetcher.Config{
		Timeout:        cfg.Fetch.Timeout,
		MaxAttempts:    cfg.Fetch.Retry.MaxAttempts,
		InitialBackoff: cfg.Fetch.Retry.InitialBackoff,
		MaxBackoff:     cfg.Fetch.Retry.MaxBackoff,
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
		UserAgent:      cfg.Fetch.UserAgent,
	}, logger)

	// A nil *RabbitMQ must not become a non-nil interface.
	var pubIface service.Publisher
	if pub != nil {
		pubIface = pub
	}

	orch := service.NewOrchestrator(
		cfg,
		f,
		source.NewRegistry(clk, logger),
		scorer.New(cfg.Scoring.Keywords),
		st.watermarks,
		st.incidents,
		st.txManager,
		pubIface,
		clk,
		logger,
		cfg.Ingest.Workers,
	)

	return &pipeline{orchestrator: orch, stores: st, publisher: pub}, nil
}
