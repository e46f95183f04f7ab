package govxml

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notice_ingest/internal/clock"
	"notice_ingest/internal/domain"
)

const manyMessages = `<?xml version="1.0" encoding="UTF-8"?>
<messages>
  <message>
    <msgID>M-1001</msgID>
    <issueDate>2024-01-15 17:00:00</issueDate>
    <heading>彌敦道封路</heading>
    <content><![CDATA[<p>維修工程至下午六時</p>]]></content>
    <link>https://example.gov.hk/tc/M-1001</link>
  </message>
  <message>
    <msgID>M-1002</msgID>
    <issueDate>15/01/2024 18:30</issueDate>
    <heading>Special traffic arrangement</heading>
    <content>Lane <b>closure</b> at Canton Road &amp; Austin Road</content>
  </message>
</messages>`

const singleMessage = `<message>
  <msgID>M-2001</msgID>
  <issueDate></issueDate>
  <heading>Temporary relocation of bus stop</heading>
  <content>Bus stop relocated</content>
</message>`

const nestedWrapper = `<response><messages><message><msgID>M-3</msgID><issueDate>2024-01-15T01:00:00Z</issueDate><heading>A</heading><content>B</content></message></messages></response>`

func newTestAdapter(now time.Time) *Adapter {
	return New(clock.Fixed(now), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var hongKong = time.FixedZone("HKT", 8*60*60)

func testMeta(t *testing.T) domain.FeedMeta {
	t.Helper()
	return domain.FeedMeta{FeedSlug: "td_special", Language: domain.LangTraditionalChinese, Location: hongKong}
}

func TestParse_MessagesWrapper(t *testing.T) {
	items, err := newTestAdapter(time.Now()).Parse([]byte(manyMessages), testMeta(t))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "M-1001", items[0].Identifier)
	assert.Equal(t, "彌敦道封路", items[0].Title)
	assert.Equal(t, "維修工程至下午六時", items[0].Body)
	assert.Equal(t, "https://example.gov.hk/tc/M-1001", items[0].Link)
	assert.Equal(t, domain.LangTraditionalChinese, items[0].Language)
	assert.True(t, items[0].PublishedAt.Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)))

	assert.Equal(t, "special traffic arrangement", items[1].Title)
	assert.Equal(t, "lane closure at canton road & austin road", items[1].Body)
	assert.True(t, items[1].PublishedAt.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
}

func TestParse_SingleMessage(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	items, err := newTestAdapter(now).Parse([]byte(singleMessage), testMeta(t))
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "M-2001", items[0].Identifier)
	assert.Equal(t, "temporary relocation of bus stop", items[0].Title)
	assert.True(t, items[0].TimestampFallback)
	assert.True(t, items[0].PublishedAt.Equal(now))
}

func TestParse_UnparseableIssueDateWarnsSeparately(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	var logs bytes.Buffer
	a := New(clock.Fixed(now), slog.New(slog.NewTextHandler(&logs, nil)))

	items, err := a.Parse([]byte(`<messages>
  <message><msgID>M-4001</msgID><issueDate>sometime soon</issueDate><heading>Lane closure</heading><content>x</content></message>
  <message><msgID>M-4002</msgID><heading>Bus stop relocated</heading><content>y</content></message>
</messages>`), testMeta(t))
	require.NoError(t, err)
	require.Len(t, items, 2)

	for _, item := range items {
		assert.True(t, item.TimestampFallback, item.Identifier)
		assert.True(t, item.PublishedAt.Equal(now), item.Identifier)
	}

	out := logs.String()
	assert.Contains(t, out, `msg="unparseable issue date, using now"`)
	assert.Contains(t, out, `issue_date="sometime soon"`)
	assert.Contains(t, out, `msg="message has no issue date, using now"`)
}

func TestParse_NestedWrapper(t *testing.T) {
	items, err := newTestAdapter(time.Now()).Parse([]byte(nestedWrapper), testMeta(t))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "M-3", items[0].Identifier)
}

func TestParse_EmptyMessages(t *testing.T) {
	items, err := newTestAdapter(time.Now()).Parse([]byte(`<messages/>`), testMeta(t))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParse_Malformed(t *testing.T) {
	a := newTestAdapter(time.Now())

	for _, raw := range []string{
		"",
		"<messages><message><msgID>1</msgID>",
		"<rss><channel/></rss>",
		"plain text",
	} {
		items, err := a.Parse([]byte(raw), testMeta(t))
		assert.NotNil(t, items)
		assert.Empty(t, items, "raw %q", raw)
		assert.True(t, errors.Is(err, domain.ErrParse), "raw %q: %v", raw, err)
	}
}
