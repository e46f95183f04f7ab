// Package govxml adapts the government message schema, where notices are
// published as <message> elements instead of RSS items. Upstream emits either
// a bare <message> root or a <messages> wrapper with one or many children,
// so every <message> element is collected wherever it appears.
package govxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/net/html/charset"

	"notice_ingest/internal/clock"
	"notice_ingest/internal/domain"
	"notice_ingest/internal/source/pubdate"
	"notice_ingest/internal/textnorm"
)

const (
	messageElement  = "message"
	messagesElement = "messages"
)

type message struct {
	MsgID     string   `xml:"msgID"`
	IssueDate string   `xml:"issueDate"`
	Heading   string   `xml:"heading"`
	Content   innerXML `xml:"content"`
	Link      string   `xml:"link"`
}

// innerXML keeps markup nested in <content> so the normalizer can strip it.
type innerXML struct {
	Raw string `xml:",innerxml"`
}

func (c innerXML) text() string {
	s := strings.ReplaceAll(c.Raw, "<![CDATA[", "")
	return strings.ReplaceAll(s, "]]>", "")
}

type Adapter struct {
	clock  clock.Clock
	logger *slog.Logger
}

func New(clk clock.Clock, logger *slog.Logger) *Adapter {
	return &Adapter{
		clock:  clk,
		logger: logger.With("adapter", domain.FormatGovXML),
	}
}

func (a *Adapter) Format() string {
	return domain.FormatGovXML
}

func (a *Adapter) Parse(raw []byte, meta domain.FeedMeta) ([]domain.RawFeedItem, error) {
	msgs, err := decodeMessages(raw)
	if err != nil {
		return []domain.RawFeedItem{}, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	logger := a.logger.With("feed", meta.FeedSlug, "lang", meta.Language)
	items := make([]domain.RawFeedItem, 0, len(msgs))

	for _, m := range msgs {
		item := domain.RawFeedItem{
			Identifier: strings.TrimSpace(m.MsgID),
			Title:      textnorm.Normalize(m.Heading),
			Body:       textnorm.Normalize(m.Content.text()),
			Link:       strings.TrimSpace(m.Link),
			Language:   meta.Language,
		}
		if item.Identifier == "" {
			item.Identifier = item.Link
		}
		if item.Title == "" && item.Body == "" {
			logger.Debug("skipping empty message", "msg_id", item.Identifier)
			continue
		}

		if t, ok := pubdate.Parse(m.IssueDate, meta.Location); ok {
			item.PublishedAt = t
		} else {
			item.PublishedAt = a.clock.Now().UTC()
			item.TimestampFallback = true
			if strings.TrimSpace(m.IssueDate) == "" {
				logger.Warn("message has no issue date, using now", "msg_id", item.Identifier)
			} else {
				logger.Warn("unparseable issue date, using now",
					"msg_id", item.Identifier,
					"issue_date", m.IssueDate,
				)
			}
		}

		items = append(items, item)
	}

	return items, nil
}

func decodeMessages(raw []byte) ([]message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty payload")
	}

	d := xml.NewDecoder(bytes.NewReader(raw))
	d.CharsetReader = charset.NewReaderLabel

	var (
		root string
		msgs []message
	)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if root == "" {
			root = se.Name.Local
		}
		if se.Name.Local != messageElement {
			continue
		}

		var m message
		if err := d.DecodeElement(&m, &se); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}

	if root == "" {
		return nil, errors.New("no root element")
	}
	if len(msgs) == 0 && root != messagesElement {
		return nil, fmt.Errorf("unexpected root element <%s>", root)
	}
	return msgs, nil
}
