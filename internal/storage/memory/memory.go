// Package memory keeps incidents and watermarks in process memory. It backs
// dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"notice_ingest/internal/domain"
)

type IncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]domain.Incident
	now       func() time.Time
}

func NewIncidentStore() *IncidentStore {
	return &IncidentStore{
		incidents: make(map[string]domain.Incident),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *IncidentStore) Upsert(ctx context.Context, incidents []domain.Incident) (domain.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.UpsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := domain.UpsertResult{Results: make([]domain.IncidentResult, 0, len(incidents))}
	for _, inc := range incidents {
		res := domain.IncidentResult{ContentHash: inc.ContentHash, Outcome: domain.OutcomeDuplicate}
		if _, exists := s.incidents[inc.ContentHash]; !exists {
			now := s.now()
			inc.CreatedAt, inc.UpdatedAt = now, now
			s.incidents[inc.ContentHash] = inc
			res.Outcome = domain.OutcomeInserted
		}
		result.Results = append(result.Results, res)
	}
	return result, nil
}

// List applies the same filter semantics as the SQL stores.
func (s *IncidentStore) List(ctx context.Context, f domain.IncidentFilter) ([]domain.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Incident
	for _, inc := range s.incidents {
		if matches(inc, f) {
			out = append(out, inc)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SourcePublishedAt.Equal(out[j].SourcePublishedAt) {
			return out[i].SourcePublishedAt.After(out[j].SourcePublishedAt)
		}
		return out[i].ContentHash < out[j].ContentHash
	})

	limit := int(f.Limit)
	if limit == 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored incidents.
func (s *IncidentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents)
}

func matches(inc domain.Incident, f domain.IncidentFilter) bool {
	switch {
	case f.FeedSlug != "" && inc.FeedSlug != f.FeedSlug:
		return false
	case f.Category != "" && inc.Category != f.Category:
		return false
	case f.MinSeverity > 0 && inc.Severity < f.MinSeverity:
		return false
	case f.MaxSeverity > 0 && inc.Severity > f.MaxSeverity:
		return false
	case !f.PublishedAfter.IsZero() && inc.SourcePublishedAt.Before(f.PublishedAfter):
		return false
	case !f.PublishedBefore.IsZero() && !inc.SourcePublishedAt.Before(f.PublishedBefore):
		return false
	}
	return true
}

type watermarkKey struct {
	feed string
	lang domain.Language
}

type WatermarkStore struct {
	mu         sync.RWMutex
	watermarks map[watermarkKey]time.Time
}

func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{watermarks: make(map[watermarkKey]time.Time)}
}

func (s *WatermarkStore) GetWatermark(ctx context.Context, feedSlug string, lang domain.Language) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[watermarkKey{feedSlug, lang}], nil
}

func (s *WatermarkStore) SetWatermark(ctx context.Context, feedSlug string, lang domain.Language, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := watermarkKey{feedSlug, lang}
	if ts.After(s.watermarks[key]) {
		s.watermarks[key] = ts.UTC()
	}
	return nil
}

// TransactionManager runs fn directly; memory writes are applied at once.
type TransactionManager struct{}

func NewTransactionManager() TransactionManager {
	return TransactionManager{}
}

func (TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
