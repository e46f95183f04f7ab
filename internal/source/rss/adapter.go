// Package rss adapts RSS, Atom and RDF feeds through gofeed.
package rss

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"

	"notice_ingest/internal/clock"
	"notice_ingest/internal/domain"
	"notice_ingest/internal/source/pubdate"
	"notice_ingest/internal/textnorm"
)

type Adapter struct {
	clock  clock.Clock
	logger *slog.Logger
}

func New(clk clock.Clock, logger *slog.Logger) *Adapter {
	return &Adapter{
		clock:  clk,
		logger: logger.With("adapter", domain.FormatRSS),
	}
}

func (a *Adapter) Format() string {
	return domain.FormatRSS
}

// Parse walks the channel items. content:encoded wins over description.
func (a *Adapter) Parse(raw []byte, meta domain.FeedMeta) ([]domain.RawFeedItem, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []domain.RawFeedItem{}, fmt.Errorf("%w: empty payload", domain.ErrParse)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return []domain.RawFeedItem{}, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	logger := a.logger.With("feed", meta.FeedSlug, "lang", meta.Language)
	items := make([]domain.RawFeedItem, 0, len(feed.Items))

	for _, it := range feed.Items {
		if it == nil {
			continue
		}

		body := it.Content
		if textnorm.Normalize(body) == "" {
			body = it.Description
		}

		item := domain.RawFeedItem{
			Identifier: strings.TrimSpace(it.GUID),
			Title:      textnorm.Normalize(it.Title),
			Body:       textnorm.Normalize(body),
			Link:       strings.TrimSpace(it.Link),
			Language:   meta.Language,
		}
		if item.Identifier == "" {
			item.Identifier = item.Link
		}
		if item.Title == "" && item.Body == "" {
			logger.Debug("skipping empty item", "identifier", item.Identifier)
			continue
		}

		switch {
		case it.PublishedParsed != nil:
			item.PublishedAt = it.PublishedParsed.UTC()
		case it.UpdatedParsed != nil:
			item.PublishedAt = it.UpdatedParsed.UTC()
		default:
			rawDate := it.Published
			if rawDate == "" {
				rawDate = it.Updated
			}
			t, ok := pubdate.Parse(rawDate, meta.Location)
			if ok {
				item.PublishedAt = t
				break
			}
			item.PublishedAt = a.clock.Now().UTC()
			item.TimestampFallback = true
			if strings.TrimSpace(rawDate) == "" {
				logger.Warn("item has no publish date, using now", "identifier", item.Identifier)
			} else {
				logger.Warn("unparseable publish date, using now",
					"identifier", item.Identifier,
					"raw_date", rawDate,
				)
			}
		}

		items = append(items, item)
	}

	return items, nil
}
