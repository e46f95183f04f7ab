package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notice_ingest/internal/domain"
)

func incident(hash, slug string, severity int, at time.Time) domain.Incident {
	return domain.Incident{ContentHash: hash, FeedSlug: slug, Severity: severity, SourcePublishedAt: at}
}

func TestIncidentStore_Upsert(t *testing.T) {
	ctx := context.Background()
	store := NewIncidentStore()
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	res, err := store.Upsert(ctx, []domain.Incident{
		incident("td_a", "td", 3, at),
		incident("td_a", "td", 5, at),
		incident("td_b", "td", 2, at),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted())
	assert.Equal(t, 1, res.SkippedDuplicate())
	assert.Equal(t, 2, store.Len())

	list, err := store.List(ctx, domain.IncidentFilter{MinSeverity: 3})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Severity)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestIncidentStore_ListOrderAndRange(t *testing.T) {
	ctx := context.Background()
	store := NewIncidentStore()
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	_, err := store.Upsert(ctx, []domain.Incident{
		incident("a", "td", 3, base),
		incident("b", "td", 3, base.Add(time.Hour)),
		incident("c", "hko", 3, base.Add(2*time.Hour)),
	})
	require.NoError(t, err)

	list, err := store.List(ctx, domain.IncidentFilter{PublishedAfter: base, PublishedBefore: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ContentHash)
	assert.Equal(t, "a", list[1].ContentHash)

	list, err = store.List(ctx, domain.IncidentFilter{FeedSlug: "hko"})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestWatermarkStore_Monotonic(t *testing.T) {
	ctx := context.Background()
	store := NewWatermarkStore()
	t1 := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	got, err := store.GetWatermark(ctx, "td", domain.LangEnglish)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	require.NoError(t, store.SetWatermark(ctx, "td", domain.LangEnglish, t1))
	require.NoError(t, store.SetWatermark(ctx, "td", domain.LangEnglish, t1.Add(-time.Hour)))

	got, err = store.GetWatermark(ctx, "td", domain.LangEnglish)
	require.NoError(t, err)
	assert.True(t, got.Equal(t1))
}

func TestWatermarkStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := NewWatermarkStore()
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.SetWatermark(ctx, "td", domain.LangEnglish, base.Add(time.Duration(i)*time.Minute))
		}(i)
	}
	wg.Wait()

	got, err := store.GetWatermark(ctx, "td", domain.LangEnglish)
	require.NoError(t, err)
	assert.True(t, got.Equal(base.Add(49*time.Minute)))
}
