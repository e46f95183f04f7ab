package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"notice_ingest/internal/domain"
	"notice_ingest/internal/storage/query"
)

type IncidentStore struct {
	db *sqlx.DB
}

func NewIncidentStore(db *sqlx.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

// Upsert inserts each incident on its own so one bad row never poisons the
// rest. Existing hashes are left untouched.
func (s *IncidentStore) Upsert(ctx context.Context, incidents []domain.Incident) (domain.UpsertResult, error) {
	if len(incidents) == 0 {
		return domain.UpsertResult{}, nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("%w: %v", domain.ErrSinkUnavailable, err)
	}

	stmt := `
		INSERT INTO incidents (
			content_hash, feed_slug, content, category, severity,
			relevance_score, source_published_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (content_hash) DO NOTHING`

	result := domain.UpsertResult{Results: make([]domain.IncidentResult, 0, len(incidents))}

	for _, inc := range incidents {
		res := domain.IncidentResult{ContentHash: inc.ContentHash}

		content, err := json.Marshal(inc.Content)
		if err != nil {
			res.Outcome = domain.OutcomeFailed
			res.Err = fmt.Errorf("%w: marshal content: %v", domain.ErrUpsert, err)
			result.Results = append(result.Results, res)
			continue
		}

		tag, err := s.db.ExecContext(ctx, stmt,
			inc.ContentHash,
			inc.FeedSlug,
			string(content),
			inc.Category,
			inc.Severity,
			inc.RelevanceScore,
			inc.SourcePublishedAt.UTC(),
		)
		if err == nil {
			var n int64
			n, err = tag.RowsAffected()
			if err == nil {
				res.Outcome = domain.OutcomeDuplicate
				if n > 0 {
					res.Outcome = domain.OutcomeInserted
				}
			}
		}
		if err != nil {
			res.Outcome = domain.OutcomeFailed
			res.Err = fmt.Errorf("%w: %v", domain.ErrUpsert, err)
		}
		result.Results = append(result.Results, res)
	}

	return result, nil
}

type incidentRow struct {
	ContentHash       string    `db:"content_hash"`
	FeedSlug          string    `db:"feed_slug"`
	Content           string    `db:"content"`
	Category          string    `db:"category"`
	Severity          int       `db:"severity"`
	RelevanceScore    float64   `db:"relevance_score"`
	SourcePublishedAt time.Time `db:"source_published_at"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r incidentRow) toDomain() (domain.Incident, error) {
	content, err := domain.UnmarshalContent([]byte(r.Content))
	if err != nil {
		return domain.Incident{}, fmt.Errorf("decode content of %s: %w", r.ContentHash, err)
	}
	return domain.Incident{
		ContentHash:       r.ContentHash,
		FeedSlug:          r.FeedSlug,
		Content:           content,
		Category:          r.Category,
		Severity:          r.Severity,
		RelevanceScore:    r.RelevanceScore,
		SourcePublishedAt: r.SourcePublishedAt.UTC(),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}, nil
}

// List serves the read-only incident view.
func (s *IncidentStore) List(ctx context.Context, filter domain.IncidentFilter) ([]domain.Incident, error) {
	q, args, err := query.ListIncidents(filter, query.Postgres)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []incidentRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	incidents := make([]domain.Incident, 0, len(rows))
	for _, r := range rows {
		inc, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, nil
}
