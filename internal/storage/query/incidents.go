// Package query builds the read-only incident view for both SQL dialects.
package query

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"notice_ingest/internal/domain"
)

const DefaultLimit = 100

// TimeLayout is the fixed-width UTC text form used for SQLite timestamps,
// so string order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect captures what differs between the two SQL backends.
type Dialect struct {
	Placeholder sq.PlaceholderFormat
	Time        func(time.Time) any
}

var (
	Postgres = Dialect{
		Placeholder: sq.Dollar,
		Time:        func(t time.Time) any { return t.UTC() },
	}
	SQLite = Dialect{
		Placeholder: sq.Question,
		Time:        func(t time.Time) any { return FormatTime(t) },
	}
)

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// IncidentColumns lists the selected columns; content comes back as text.
var IncidentColumns = []string{
	"content_hash",
	"feed_slug",
	"content",
	"category",
	"severity",
	"relevance_score",
	"source_published_at",
	"created_at",
	"updated_at",
}

// ListIncidents returns the SQL for f, newest first.
func ListIncidents(f domain.IncidentFilter, d Dialect) (string, []any, error) {
	b := sq.Select(IncidentColumns...).
		From("incidents").
		OrderBy("source_published_at DESC", "content_hash").
		PlaceholderFormat(d.Placeholder)

	if f.FeedSlug != "" {
		b = b.Where(sq.Eq{"feed_slug": f.FeedSlug})
	}
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": f.Category})
	}
	if f.MinSeverity > 0 {
		b = b.Where(sq.GtOrEq{"severity": f.MinSeverity})
	}
	if f.MaxSeverity > 0 {
		b = b.Where(sq.LtOrEq{"severity": f.MaxSeverity})
	}
	if !f.PublishedAfter.IsZero() {
		b = b.Where(sq.GtOrEq{"source_published_at": d.Time(f.PublishedAfter)})
	}
	if !f.PublishedBefore.IsZero() {
		b = b.Where(sq.Lt{"source_published_at": d.Time(f.PublishedBefore)})
	}

	limit := f.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	return b.Limit(limit).ToSql()
}
