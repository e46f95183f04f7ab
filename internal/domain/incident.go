package domain

import (
	"encoding/json"
	"time"
)

// LocalizedContent is one language slot of a bundle.
type LocalizedContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Link  string `json:"link,omitempty"`
}

// Content maps a language to its localized slot. It is the serialized form
// stored in the incident content column.
type Content map[Language]LocalizedContent

// Bundle groups the language editions of one story fetched in a pass.
type Bundle struct {
	Key         string
	Primary     Language
	Content     Content
	PublishedAt time.Time
	Items       []RawFeedItem
	// Dropped holds same-language items that lost this bundle's key. They
	// never reach Content but move the watermark once the bundle is stored.
	Dropped []RawFeedItem
}

// Lead returns the slot used for hashing: the primary language when present,
// otherwise the first populated language in canonical order.
func (b Bundle) Lead() (Language, LocalizedContent) {
	if c, ok := b.Content[b.Primary]; ok {
		return b.Primary, c
	}
	for _, l := range Languages {
		if c, ok := b.Content[l]; ok {
			return l, c
		}
	}
	return "", LocalizedContent{}
}

// Languages returns the populated languages in canonical order.
func (b Bundle) Languages() []Language {
	var langs []Language
	for _, l := range Languages {
		if _, ok := b.Content[l]; ok {
			langs = append(langs, l)
		}
	}
	return langs
}

type Incident struct {
	ContentHash       string    `json:"content_hash" db:"content_hash"`
	FeedSlug          string    `json:"feed_slug" db:"feed_slug"`
	Content           Content   `json:"content" db:"-"`
	Category          string    `json:"category" db:"category"`
	Severity          int       `json:"severity" db:"severity"`
	RelevanceScore    float64   `json:"relevance_score" db:"relevance_score"`
	SourcePublishedAt time.Time `json:"source_published_at" db:"source_published_at"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// UnmarshalContent decodes the stored content column.
func UnmarshalContent(raw []byte) (Content, error) {
	var c Content
	if len(raw) == 0 {
		return Content{}, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpsertOutcome is the result of writing one incident.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeDuplicate
	OutcomeFailed
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// IncidentResult pairs an incident hash with its write outcome.
type IncidentResult struct {
	ContentHash string
	Outcome     UpsertOutcome
	Err         error
}

// UpsertResult reports a batch write, one entry per input incident in order.
type UpsertResult struct {
	Results []IncidentResult
}

func (r UpsertResult) count(o UpsertOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r UpsertResult) Inserted() int         { return r.count(OutcomeInserted) }
func (r UpsertResult) SkippedDuplicate() int { return r.count(OutcomeDuplicate) }
func (r UpsertResult) Failed() int           { return r.count(OutcomeFailed) }

// IncidentFilter narrows the read-only incident view. Zero values mean no
// constraint.
type IncidentFilter struct {
	FeedSlug        string
	Category        string
	MinSeverity     int
	MaxSeverity     int
	PublishedAfter  time.Time
	PublishedBefore time.Time
	Limit           uint64
}
