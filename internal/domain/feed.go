package domain

import (
	"net/url"
	"time"
)

// Language identifies one language edition of a feed group.
type Language string

const (
	LangEnglish            Language = "en"
	LangTraditionalChinese Language = "zh_TW"
	LangSimplifiedChinese  Language = "zh_CN"
)

// Languages lists every supported edition in canonical order.
var Languages = []Language{LangEnglish, LangTraditionalChinese, LangSimplifiedChinese}

func (l Language) Valid() bool {
	for _, known := range Languages {
		if l == known {
			return true
		}
	}
	return false
}

// Feed formats understood by the adapters.
const (
	FormatRSS    = "rss"
	FormatGovXML = "govxml"
)

// Pairing strategies used to bridge language editions of one story.
const (
	PairingTitle   = "title"
	PairingLink    = "link"
	PairingOrdinal = "ordinal"
	PairingDay     = "day"
)

// FeedGroup is one logical upstream source exposed as up to three
// per-language feed URLs. Watermarks are kept in the watermark store.
type FeedGroup struct {
	Slug     string
	Name     string
	Format   string
	Category string
	URLs     map[Language]string
	Active   bool
	Primary  Language
	Pairing  string
	Location *time.Location
}

// ConfiguredLanguages returns the languages with a URL, in canonical order.
func (g FeedGroup) ConfiguredLanguages() []Language {
	var langs []Language
	for _, l := range Languages {
		if g.URLs[l] != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

func (g FeedGroup) Loc() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

// Meta builds the parse metadata for one language edition.
func (g FeedGroup) Meta(lang Language) FeedMeta {
	return FeedMeta{
		FeedSlug: g.Slug,
		Language: lang,
		URL:      g.URLs[lang],
		Location: g.Loc(),
	}
}

// FeedMeta describes the edition a raw payload was fetched from.
type FeedMeta struct {
	FeedSlug string
	Language Language
	URL      string
	Location *time.Location
}

// Host returns the upstream host, used in log lines.
func (m FeedMeta) Host() string {
	u, err := url.Parse(m.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// RawFeedItem is one parsed entry of a single language fetch. Title and
// Body are already normalized.
type RawFeedItem struct {
	Identifier        string
	Title             string
	Body              string
	Link              string
	PublishedAt       time.Time
	Language          Language
	TimestampFallback bool
}
