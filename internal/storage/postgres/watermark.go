package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"notice_ingest/internal/domain"
	"notice_ingest/internal/storage/txn"
)

type WatermarkStore struct {
	db *sqlx.DB
}

func NewWatermarkStore(db *sqlx.DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

// GetWatermark returns the zero time when nothing was ingested yet.
func (s *WatermarkStore) GetWatermark(ctx context.Context, feedSlug string, lang domain.Language) (time.Time, error) {
	query := `
		SELECT published_at
		FROM watermarks
		WHERE feed_slug = $1 AND language = $2`

	var ts time.Time
	err := txn.GetExecutor(ctx, s.db).GetContext(ctx, &ts, query, feedSlug, string(lang))
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// SetWatermark never moves a watermark backwards.
func (s *WatermarkStore) SetWatermark(ctx context.Context, feedSlug string, lang domain.Language, ts time.Time) error {
	query := `
		INSERT INTO watermarks (feed_slug, language, published_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (feed_slug, language) DO UPDATE SET
			published_at = GREATEST(watermarks.published_at, EXCLUDED.published_at),
			updated_at = NOW()`

	_, err := txn.GetExecutor(ctx, s.db).ExecContext(ctx, query, feedSlug, string(lang), ts.UTC())
	return err
}
