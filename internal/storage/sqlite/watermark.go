package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"notice_ingest/internal/domain"
	"notice_ingest/internal/storage/query"
	"notice_ingest/internal/storage/txn"
)

type WatermarkStore struct {
	db *sqlx.DB
}

func NewWatermarkStore(db *sqlx.DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

func (s *WatermarkStore) GetWatermark(ctx context.Context, feedSlug string, lang domain.Language) (time.Time, error) {
	var raw string
	err := txn.GetExecutor(ctx, s.db).GetContext(ctx, &raw,
		"SELECT published_at FROM watermarks WHERE feed_slug = ? AND language = ?",
		feedSlug, string(lang),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	ts, err := parseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode watermark %s/%s: %w", feedSlug, lang, err)
	}
	return ts, nil
}

// SetWatermark keeps the later of the stored and given timestamps.
func (s *WatermarkStore) SetWatermark(ctx context.Context, feedSlug string, lang domain.Language, ts time.Time) error {
	stmt := `
		INSERT INTO watermarks (feed_slug, language, published_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (feed_slug, language) DO UPDATE SET
			published_at = MAX(watermarks.published_at, excluded.published_at),
			updated_at = excluded.updated_at`

	_, err := txn.GetExecutor(ctx, s.db).ExecContext(ctx, stmt,
		feedSlug,
		string(lang),
		query.FormatTime(ts),
		query.FormatTime(time.Now()),
	)
	return err
}
