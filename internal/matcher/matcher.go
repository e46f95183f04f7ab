// Package matcher folds the language editions of one feed group into
// multilingual bundles.
package matcher

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"notice_ingest/internal/domain"
	"notice_ingest/internal/textnorm"
)

const (
	titlePrefixRunes = 50
	digestLen        = 8
	dayLayout        = "2006-01-02"
)

// Key identifies a story within one feed group and pass.
type Key struct {
	Day    string
	Digest string
}

func (k Key) String() string {
	return k.Day + ":" + k.Digest
}

// NearMiss records a same-language item dropped because an earlier item of
// that language already claimed the key.
type NearMiss struct {
	Key      Key
	Language domain.Language
	Kept     domain.RawFeedItem
	Dropped  domain.RawFeedItem
}

type Result struct {
	Bundles    []domain.Bundle
	NearMisses []NearMiss
}

type Matcher struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Matcher {
	return &Matcher{logger: logger}
}

type keyed struct {
	key  Key
	item domain.RawFeedItem
}

// Match buckets items by key. Bundles come back sorted by key.
func (m *Matcher) Match(group domain.FeedGroup, items map[domain.Language][]domain.RawFeedItem) Result {
	logger := m.logger.With("feed", group.Slug, "pairing", pairingOf(group))

	primary := group.Primary
	if primary == "" {
		primary = domain.LangEnglish
	}

	slots := make(map[string]map[domain.Language]domain.RawFeedItem)
	dropped := make(map[string][]domain.RawFeedItem)
	var result Result

	for _, lang := range domain.Languages {
		for _, k := range keyItems(group, items[lang]) {
			id := k.key.String()
			members, ok := slots[id]
			if !ok {
				members = make(map[domain.Language]domain.RawFeedItem)
				slots[id] = members
			}
			if kept, taken := members[lang]; taken {
				result.NearMisses = append(result.NearMisses, NearMiss{
					Key:      k.key,
					Language: lang,
					Kept:     kept,
					Dropped:  k.item,
				})
				logger.Info("near-miss: same-language items share a match key",
					"key", id,
					"lang", lang,
					"kept", kept.Identifier,
					"dropped", k.item.Identifier,
				)
				dropped[id] = append(dropped[id], k.item)
				continue
			}
			members[lang] = k.item
		}
	}

	ids := make([]string, 0, len(slots))
	for id := range slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result.Bundles = make([]domain.Bundle, 0, len(ids))
	for _, id := range ids {
		result.Bundles = append(result.Bundles, buildBundle(id, primary, slots[id], dropped[id]))
	}

	logger.Debug("matched items",
		"bundles", len(result.Bundles),
		"near_misses", len(result.NearMisses),
	)
	return result
}

func buildBundle(id string, primary domain.Language, members map[domain.Language]domain.RawFeedItem, dropped []domain.RawFeedItem) domain.Bundle {
	b := domain.Bundle{
		Key:     id,
		Primary: primary,
		Content: make(domain.Content, len(members)),
		Dropped: dropped,
	}
	for _, lang := range domain.Languages {
		item, ok := members[lang]
		if !ok {
			continue
		}
		b.Content[lang] = domain.LocalizedContent{
			Title: item.Title,
			Body:  item.Body,
			Link:  item.Link,
		}
		b.Items = append(b.Items, item)
		if b.PublishedAt.IsZero() || item.PublishedAt.Before(b.PublishedAt) {
			b.PublishedAt = item.PublishedAt
		}
	}
	if item, ok := members[primary]; ok {
		b.PublishedAt = item.PublishedAt
	}
	return b
}

// keyItems returns the items of one language with their keys, ordered by
// publish time. Ties keep feed order.
func keyItems(group domain.FeedGroup, items []domain.RawFeedItem) []keyed {
	sorted := make([]domain.RawFeedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.Before(sorted[j].PublishedAt)
	})

	loc := group.Loc()
	ranks := make(map[string]int)
	out := make([]keyed, 0, len(sorted))

	for _, item := range sorted {
		day := item.PublishedAt.In(loc).Format(dayLayout)

		var signal string
		switch pairingOf(group) {
		case domain.PairingLink:
			signal = LinkSignal(item.Link)
			if signal == "" {
				signal = titleSignal(item)
			}
		case domain.PairingOrdinal:
			signal = strconv.Itoa(ranks[day])
			ranks[day]++
		case domain.PairingDay:
			signal = ""
		default:
			signal = titleSignal(item)
		}

		out = append(out, keyed{
			key:  Key{Day: day, Digest: digest(signal)},
			item: item,
		})
	}
	return out
}

func pairingOf(group domain.FeedGroup) string {
	if group.Pairing == "" {
		return domain.PairingTitle
	}
	return group.Pairing
}

func titleSignal(item domain.RawFeedItem) string {
	return textnorm.Prefix(textnorm.Normalize(item.Title), titlePrefixRunes)
}

func digest(signal string) string {
	sum := sha256.Sum256([]byte(signal))
	return hex.EncodeToString(sum[:])[:digestLen]
}

// languageSegments are path segments upstream uses to separate editions.
var languageSegments = map[string]bool{
	"en": true, "eng": true, "english": true,
	"tc": true, "sc": true, "zh": true,
	"zh-hk": true, "zh_hk": true, "zh-tw": true, "zh_tw": true,
	"zh-cn": true, "zh_cn": true,
	"chi": true, "chs": true, "cht": true,
	"tc_chi": true, "sc_chi": true,
}

// LinkSignal strips language markers from a link so the editions of one
// notice compare equal.
func LinkSignal(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return strings.ToLower(link)
	}

	var segs []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" || languageSegments[strings.ToLower(seg)] {
			continue
		}
		segs = append(segs, strings.ToLower(seg))
	}

	q := u.Query()
	q.Del("lang")
	q.Del("language")

	signal := strings.ToLower(u.Host) + "/" + strings.Join(segs, "/")
	if enc := q.Encode(); enc != "" {
		signal += "?" + enc
	}
	return signal
}
