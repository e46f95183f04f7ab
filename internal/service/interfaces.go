package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"notice_ingest/internal/domain"
)

type FeedGroupSource interface {
	ActiveFeedGroups(ctx context.Context) ([]domain.FeedGroup, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// WatermarkStore keeps the newest published time ingested per feed group
// and language. A zero time means no watermark. SetWatermark never moves a
// watermark backwards.
type WatermarkStore interface {
	GetWatermark(ctx context.Context, feedSlug string, lang domain.Language) (time.Time, error)
	SetWatermark(ctx context.Context, feedSlug string, lang domain.Language, ts time.Time) error
}

// IncidentSink stores incidents keyed by content hash. The error return is
// reserved for a sink that cannot be used at all; per-incident failures are
// reported in the result.
type IncidentSink interface {
	Upsert(ctx context.Context, incidents []domain.Incident) (domain.UpsertResult, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, incident *domain.Incident) error
	Close() error
}
