// Package scorer ranks bundles by keyword severity and freshness.
package scorer

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"notice_ingest/internal/domain"
	"notice_ingest/internal/textnorm"
)

const (
	SeverityUrgent     = 5
	SeverityDisruption = 4
	SeverityNotice     = 3
	SeverityDefault    = 2
	SeverityInfo       = 1

	decayHours  = 168.0
	urgentBoost = 0.3
)

// DefaultKeywords holds the built-in tiers. Entries are stems: ASCII
// keywords match at the start of a word, CJK keywords anywhere. There is no
// built-in SeverityInfo tier; it only exists when configured.
var DefaultKeywords = map[int][]string{
	SeverityUrgent: {
		"urgent", "emergency", "critical", "evacuat",
		"緊急", "危急", "嚴重",
		"紧急", "严重",
	},
	SeverityDisruption: {
		"disruption", "disrupted", "suspend", "suspension", "divert", "diversion", "cancelled", "canceled",
		"中斷", "暫停", "改道", "停駛", "取消",
		"中断", "暂停", "停驶",
	},
	SeverityNotice: {
		"temporary", "temporarily", "relocation", "relocated", "special arrangement",
		"maintenance", "closure", "closed", "roadworks",
		"臨時", "遷移", "特別安排", "維修", "封閉", "封路",
		"临时", "迁移", "特别安排", "维修", "封闭",
	},
}

// Score is the ranking of one bundle.
type Score struct {
	Severity  int
	Relevance float64
	Urgent    bool
}

type Scorer struct {
	// tiers in descending severity; tier 1 is handled apart.
	tiers [][]string
	info  []string
}

// New builds a scorer from the default tiers plus extra keywords keyed by
// severity. Unknown severities are ignored.
func New(extra map[int][]string) *Scorer {
	s := &Scorer{}
	for _, sev := range []int{SeverityUrgent, SeverityDisruption, SeverityNotice} {
		s.tiers = append(s.tiers, prepare(DefaultKeywords[sev], extra[sev]))
	}
	s.info = prepare(extra[SeverityInfo])
	return s
}

func prepare(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, kw := range list {
			kw = textnorm.Normalize(kw)
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	return out
}

// Score computes severity and relevance at now.
func (s *Scorer) Score(b domain.Bundle, now time.Time) Score {
	text := bundleText(b)
	sev := s.severity(text)
	return Score{
		Severity:  sev,
		Relevance: Relevance(b.PublishedAt, now, sev == SeverityUrgent),
		Urgent:    sev == SeverityUrgent,
	}
}

// Severity returns the highest matching tier over every language slot.
func (s *Scorer) Severity(b domain.Bundle) int {
	return s.severity(bundleText(b))
}

func (s *Scorer) severity(text string) int {
	for i, tier := range s.tiers {
		if matchAny(text, tier) {
			return SeverityUrgent - i
		}
	}
	if matchAny(text, s.info) {
		return SeverityInfo
	}
	return SeverityDefault
}

// Relevance decays linearly over seven days. Future timestamps count as
// fresh.
func Relevance(publishedAt, now time.Time, urgent bool) float64 {
	hours := now.Sub(publishedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	r := 1 - hours/decayHours
	if r < 0 {
		r = 0
	}
	if urgent {
		r += urgentBoost
	}
	if r > 1 {
		r = 1
	}
	return r
}

func bundleText(b domain.Bundle) string {
	var sb strings.Builder
	for _, lang := range b.Languages() {
		c := b.Content[lang]
		sb.WriteString(textnorm.Normalize(c.Title))
		sb.WriteByte(' ')
		sb.WriteString(textnorm.Normalize(c.Body))
		sb.WriteByte(' ')
	}
	return sb.String()
}

func matchAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if contains(text, kw) {
			return true
		}
	}
	return false
}

// contains reports whether kw occurs in text. Keywords starting with an
// ASCII letter or digit must begin a word.
func contains(text, kw string) bool {
	first, _ := utf8.DecodeRuneInString(kw)
	if first >= utf8.RuneSelf || !isWordRune(first) {
		return strings.Contains(text, kw)
	}

	for offset := 0; ; {
		i := strings.Index(text[offset:], kw)
		if i < 0 {
			return false
		}
		pos := offset + i
		if pos == 0 {
			return true
		}
		prev, _ := utf8.DecodeLastRuneInString(text[:pos])
		if !isWordRune(prev) {
			return true
		}
		offset = pos + 1
	}
}

func isWordRune(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
