package matcher

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notice_ingest/internal/domain"
)

func newTestMatcher() *Matcher {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func hongKong(t *testing.T) *time.Location {
	t.Helper()
	return time.FixedZone("HKT", 8*60*60)
}

func item(lang domain.Language, id, title string, at time.Time) domain.RawFeedItem {
	return domain.RawFeedItem{
		Identifier:  id,
		Title:       title,
		Body:        title + " body",
		PublishedAt: at,
		Language:    lang,
	}
}

func TestMatch_NathanRoadOrdinal(t *testing.T) {
	loc := hongKong(t)
	group := domain.FeedGroup{Slug: "td", Primary: domain.LangEnglish, Pairing: domain.PairingOrdinal, Location: loc}

	enAt := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	zhAt := time.Date(2024, 1, 15, 9, 2, 0, 0, time.UTC)

	res := newTestMatcher().Match(group, map[domain.Language][]domain.RawFeedItem{
		domain.LangEnglish:            {item(domain.LangEnglish, "en-1", "road closed on nathan road", enAt)},
		domain.LangTraditionalChinese: {item(domain.LangTraditionalChinese, "tc-1", "彌敦道封路", zhAt)},
	})

	require.Len(t, res.Bundles, 1)
	b := res.Bundles[0]
	assert.Equal(t, []domain.Language{domain.LangEnglish, domain.LangTraditionalChinese}, b.Languages())
	assert.Equal(t, "road closed on nathan road", b.Content[domain.LangEnglish].Title)
	assert.Equal(t, "彌敦道封路", b.Content[domain.LangTraditionalChinese].Title)
	assert.True(t, b.PublishedAt.Equal(enAt))
	assert.Len(t, b.Items, 2)
	assert.Empty(t, res.NearMisses)
}

func TestMatch_TitleStrategyKeepsScriptsApart(t *testing.T) {
	group := domain.FeedGroup{Slug: "td", Location: hongKong(t)}
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	res := newTestMatcher().Match(group, map[domain.Language][]domain.RawFeedItem{
		domain.LangEnglish:            {item(domain.LangEnglish, "en-1", "road closed on nathan road", at)},
		domain.LangTraditionalChinese: {item(domain.LangTraditionalChinese, "tc-1", "彌敦道封路", at)},
	})

	require.Len(t, res.Bundles, 2)
	for _, b := range res.Bundles {
		assert.Len(t, b.Content, 1)
	}
}

func TestMatch_TitleStrategyMergesSharedTitles(t *testing.T) {
	group := domain.FeedGroup{Slug: "hko", Location: hongKong(t)}
	at := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)

	res := newTestMatcher().Match(group, map[domain.Language][]domain.RawFeedItem{
		domain.LangTraditionalChinese: {item(domain.LangTraditionalChinese, "tc", "t8", at)},
		domain.LangSimplifiedChinese:  {item(domain.LangSimplifiedChinese, "sc", "T8", at.Add(time.Minute))},
	})

	require.Len(t, res.Bundles, 1)
	b := res.Bundles[0]
	assert.Equal(t, domain.LangEnglish, b.Primary)
	// No primary-language member: the earliest member time wins.
	assert.True(t, b.PublishedAt.Equal(at))
	lang, _ := b.Lead()
	assert.Equal(t, domain.LangTraditionalChinese, lang)
}

func TestMatch_LinkStrategy(t *testing.T) {
	group := domain.FeedGroup{Slug: "td", Pairing: domain.PairingLink, Location: hongKong(t)}
	at := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)

	en := item(domain.LangEnglish, "en", "special traffic arrangement", at)
	en.Link = "https://www.td.gov.hk/en/notices/2024/0115.html"
	tc := item(domain.LangTraditionalChinese, "tc", "特別交通安排", at)
	tc.Link = "https://www.td.gov.hk/tc/notices/2024/0115.html"
	other := item(domain.LangTraditionalChinese, "tc-2", "巴士改道", at)
	other.Link = "https://www.td.gov.hk/tc/notices/2024/0116.html"

	res := newTestMatcher().Match(group, map[domain.Language][]domain.RawFeedItem{
		domain.LangEnglish:            {en},
		domain.LangTraditionalChinese: {tc, other},
	})

	require.Len(t, res.Bundles, 2)
	merged := 0
	for _, b := range res.Bundles {
		if len(b.Content) == 2 {
			merged++
		}
	}
	assert.Equal(t, 1, merged)
}

func TestMatch_DayBucketUsesGroupLocation(t *testing.T) {
	group := domain.FeedGroup{Slug: "td", Pairing: domain.PairingDay, Location: hongKong(t)}

	// 23:30 UTC on the 14th is already the 15th in Hong Kong.
	en := item(domain.LangEnglish, "en", "a", time.Date(2024, 1, 14, 23, 30, 0, 0, time.UTC))
	tc := item(domain.LangTraditionalChinese, "tc", "b", time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC))

	res := newTestMatcher().Match(group, map[domain.Language][]domain.RawFeedItem{
		domain.LangEnglish:            {en},
		domain.LangTraditionalChinese: {tc},
	})

	require.Len(t, res.Bundles, 1)
	assert.Contains(t, res.Bundles[0].Key, "2024-01-15:")
}

func TestMatch_SameLanguageCollisionIsNearMiss(t *testing.T) {
	group := domain.FeedGroup{Slug: "td", Location: time.UTC}
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	later := item(domain.LangEnglish, "later", "road closed on nathan road", at.Add(time.Hour))
	earlier := item(domain.LangEnglish, "earlier", "road closed on nathan road", at)

	res := newTestMatcher().Match(group, map[domain.Language][]domain.RawFeedItem{
		domain.LangEnglish: {later, earlier},
	})

	require.Len(t, res.Bundles, 1)
	require.Len(t, res.Bundles[0].Items, 1)
	assert.Equal(t, "earlier", res.Bundles[0].Items[0].Identifier)
	require.Len(t, res.Bundles[0].Dropped, 1)
	assert.Equal(t, "later", res.Bundles[0].Dropped[0].Identifier)
	assert.Len(t, res.Bundles[0].Content, 1)

	require.Len(t, res.NearMisses, 1)
	assert.Equal(t, "earlier", res.NearMisses[0].Kept.Identifier)
	assert.Equal(t, "later", res.NearMisses[0].Dropped.Identifier)
}

func TestMatch_TiesAreStable(t *testing.T) {
	group := domain.FeedGroup{Slug: "td", Location: time.UTC}
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	res := newTestMatcher().Match(group, map[domain.Language][]domain.RawFeedItem{
		domain.LangEnglish: {
			item(domain.LangEnglish, "first", "same", at),
			item(domain.LangEnglish, "second", "same", at),
		},
	})

	require.Len(t, res.Bundles, 1)
	assert.Equal(t, "first", res.Bundles[0].Items[0].Identifier)
}

func TestMatch_OutputSortedByKey(t *testing.T) {
	group := domain.FeedGroup{Slug: "td", Location: time.UTC}
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	var items []domain.RawFeedItem
	for i, title := range []string{"c", "a", "b", "d"} {
		items = append(items, item(domain.LangEnglish, title, title, base.AddDate(0, 0, -i)))
	}

	res := newTestMatcher().Match(group, map[domain.Language][]domain.RawFeedItem{domain.LangEnglish: items})

	require.Len(t, res.Bundles, 4)
	for i := 1; i < len(res.Bundles); i++ {
		assert.Less(t, res.Bundles[i-1].Key, res.Bundles[i].Key)
	}
}

func TestMatch_Empty(t *testing.T) {
	res := newTestMatcher().Match(domain.FeedGroup{Slug: "td"}, nil)
	assert.Empty(t, res.Bundles)
	assert.Empty(t, res.NearMisses)
}

func TestLinkSignal(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"https://www.td.gov.hk/en/a/b.html", "https://www.td.gov.hk/tc/a/b.html"},
		{"https://example.gov.hk/notice?id=7&lang=en", "https://example.gov.hk/notice?lang=zh-hk&id=7"},
		{"https://EXAMPLE.gov.hk/eng/x", "https://example.gov.hk/chi/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, LinkSignal(tt.a), LinkSignal(tt.b), "%s vs %s", tt.a, tt.b)
	}

	assert.NotEqual(t, LinkSignal("https://a.gov.hk/en/1"), LinkSignal("https://a.gov.hk/en/2"))
	assert.Equal(t, "", LinkSignal("  "))
}
