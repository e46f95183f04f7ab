// Package source holds the feed adapters that turn raw upstream payloads
// into normalized RawFeedItems.
package source

import (
	"fmt"
	"log/slog"
	"sort"

	"notice_ingest/internal/clock"
	"notice_ingest/internal/domain"
	"notice_ingest/internal/source/govxml"
	"notice_ingest/internal/source/rss"
)

// Parser converts one fetched payload into items. Malformed input yields an
// empty slice and an error wrapping domain.ErrParse.
type Parser interface {
	Format() string
	Parse(raw []byte, meta domain.FeedMeta) ([]domain.RawFeedItem, error)
}

// Registry maps a feed group format to its parser.
type Registry map[string]Parser

// NewRegistry returns a registry with every built-in adapter.
func NewRegistry(clk clock.Clock, logger *slog.Logger) Registry {
	return NewRegistryOf(
		rss.New(clk, logger),
		govxml.New(clk, logger),
	)
}

func NewRegistryOf(parsers ...Parser) Registry {
	r := make(Registry, len(parsers))
	for _, p := range parsers {
		r[p.Format()] = p
	}
	return r
}

func (r Registry) Lookup(format string) (Parser, error) {
	p, ok := r[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format %q", format)
	}
	return p, nil
}

// Formats lists the registered formats, sorted.
func (r Registry) Formats() []string {
	formats := make([]string, 0, len(r))
	for f := range r {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}
