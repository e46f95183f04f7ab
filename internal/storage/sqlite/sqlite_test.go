package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"notice_ingest/internal/contenthash"
	"notice_ingest/internal/domain"
	"notice_ingest/internal/storage/txn"
)

type SQLiteSuite struct {
	suite.Suite
	ctx    context.Context
	db     *sqlx.DB
	logger *slog.Logger
}

func (s *SQLiteSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(s.ctx, filepath.Join(s.T().TempDir(), "data", "test.db"), s.logger)
	s.Require().NoError(err)
	s.db = db
}

func (s *SQLiteSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestSQLiteSuite(t *testing.T) {
	suite.Run(t, new(SQLiteSuite))
}

func newIncident(slug, title, body string, severity int, at time.Time) domain.Incident {
	return domain.Incident{
		ContentHash: contenthash.Compute(slug, title, body),
		FeedSlug:    slug,
		Content: domain.Content{
			domain.LangEnglish: {Title: title, Body: body, Link: "https://example.gov.hk/" + title},
		},
		Category:          "transport",
		Severity:          severity,
		RelevanceScore:    0.5,
		SourcePublishedAt: at,
	}
}

func (s *SQLiteSuite) TestMigrate_AlreadyCurrent() {
	var version int
	s.Require().NoError(s.db.GetContext(s.ctx, &version, "PRAGMA user_version"))
	s.Equal(latestVersion(), version)

	applied, err := Migrate(s.ctx, s.db, s.logger)
	s.NoError(err)
	s.Equal(0, applied)
}

func (s *SQLiteSuite) TestIncidentStore_UpsertIgnoresDuplicates() {
	store := NewIncidentStore(s.db)
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	inc := newIncident("td_notices", "road closed on nathan road", "maintenance work until 6pm", 3, at)

	res, err := store.Upsert(s.ctx, []domain.Incident{inc, inc})
	s.NoError(err)
	s.Equal(1, res.Inserted())
	s.Equal(1, res.SkippedDuplicate())

	again := inc
	again.Severity = 5
	res, err = store.Upsert(s.ctx, []domain.Incident{again})
	s.NoError(err)
	s.Equal(1, res.SkippedDuplicate())

	list, err := store.List(s.ctx, domain.IncidentFilter{})
	s.NoError(err)
	s.Require().Len(list, 1)
	s.Equal(3, list[0].Severity)
	s.True(list[0].SourcePublishedAt.Equal(at))
	s.Equal("road closed on nathan road", list[0].Content[domain.LangEnglish].Title)
	s.False(list[0].CreatedAt.IsZero())
}

func (s *SQLiteSuite) TestIncidentStore_UpsertIsolatesBadRows() {
	store := NewIncidentStore(s.db)
	at := time.Now().UTC()

	res, err := store.Upsert(s.ctx, []domain.Incident{
		newIncident("td_notices", "bad", "x", 0, at),
		newIncident("td_notices", "good", "x", 2, at),
	})
	s.NoError(err)
	s.Require().Len(res.Results, 2)
	s.Equal(domain.OutcomeFailed, res.Results[0].Outcome)
	s.True(errors.Is(res.Results[0].Err, domain.ErrUpsert))
	s.Equal(domain.OutcomeInserted, res.Results[1].Outcome)
}

func (s *SQLiteSuite) TestIncidentStore_UpsertClosedDB() {
	store := NewIncidentStore(s.db)
	s.Require().NoError(s.db.Close())

	_, err := store.Upsert(s.ctx, []domain.Incident{newIncident("td", "a", "b", 2, time.Now())})
	s.ErrorIs(err, domain.ErrSinkUnavailable)
	s.db = nil
}

func (s *SQLiteSuite) TestIncidentStore_ListFilters() {
	store := NewIncidentStore(s.db)
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	_, err := store.Upsert(s.ctx, []domain.Incident{
		newIncident("td_notices", "one", "x", 3, base),
		newIncident("td_notices", "two", "x", 5, base.Add(time.Hour)),
		newIncident("hko_warn", "three", "x", 4, base.Add(2*time.Hour)),
	})
	s.Require().NoError(err)

	all, err := store.List(s.ctx, domain.IncidentFilter{})
	s.NoError(err)
	s.Require().Len(all, 3)
	s.Equal("three", all[0].Content[domain.LangEnglish].Title)
	s.Equal("one", all[2].Content[domain.LangEnglish].Title)

	severe, err := store.List(s.ctx, domain.IncidentFilter{FeedSlug: "td_notices", MinSeverity: 4})
	s.NoError(err)
	s.Require().Len(severe, 1)
	s.Equal(5, severe[0].Severity)

	ranged, err := store.List(s.ctx, domain.IncidentFilter{
		PublishedAfter:  base.Add(30 * time.Minute),
		PublishedBefore: base.Add(3 * time.Hour),
		Limit:           1,
	})
	s.NoError(err)
	s.Require().Len(ranged, 1)
	s.Equal("hko_warn", ranged[0].FeedSlug)
}

func (s *SQLiteSuite) TestWatermarkStore_Monotonic() {
	store := NewWatermarkStore(s.db)
	t1 := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	got, err := store.GetWatermark(s.ctx, "td_notices", domain.LangEnglish)
	s.NoError(err)
	s.True(got.IsZero())

	s.NoError(store.SetWatermark(s.ctx, "td_notices", domain.LangEnglish, t1))
	s.NoError(store.SetWatermark(s.ctx, "td_notices", domain.LangEnglish, t1.Add(-time.Minute)))

	got, err = store.GetWatermark(s.ctx, "td_notices", domain.LangEnglish)
	s.NoError(err)
	s.True(got.Equal(t1))

	s.NoError(store.SetWatermark(s.ctx, "td_notices", domain.LangEnglish, t1.Add(time.Nanosecond)))
	got, err = store.GetWatermark(s.ctx, "td_notices", domain.LangEnglish)
	s.NoError(err)
	s.True(got.Equal(t1.Add(time.Nanosecond)))
}

func (s *SQLiteSuite) TestWatermarkStore_TransactionRollback() {
	store := NewWatermarkStore(s.db)
	tm := txn.NewManager(s.db)
	t1 := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := store.SetWatermark(ctx, "td_notices", domain.LangEnglish, t1); err != nil {
			return err
		}
		return errors.New("boom")
	})
	s.Error(err)

	got, err := store.GetWatermark(s.ctx, "td_notices", domain.LangEnglish)
	s.NoError(err)
	s.True(got.IsZero())

	err = tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		return store.SetWatermark(ctx, "td_notices", domain.LangTraditionalChinese, t1)
	})
	s.NoError(err)

	got, err = store.GetWatermark(s.ctx, "td_notices", domain.LangTraditionalChinese)
	s.NoError(err)
	s.True(got.Equal(t1))
}
