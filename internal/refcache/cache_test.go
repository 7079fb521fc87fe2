package refcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ReplyScanner/internal/domain"
)

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Engineering Notes</title>
  <item>
    <title>Streaming pipelines</title>
    <description>Lessons from a year of streaming.</description>
    <link>https://blog.example.org/streaming</link>
    <category>data</category>
    <pubDate>Mon, 24 Aug 2026 09:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Cache design</title>
    <description>TTL tradeoffs in practice.</description>
    <link>https://blog.example.org/cache</link>
  </item>
</channel></rss>`

const atomDoc = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Notes</title>
  <entry>
    <title>Retry budgets</title>
    <summary>How many attempts are enough.</summary>
    <link href="https://blog.example.org/retries"/>
    <updated>2026-08-20T12:00:00Z</updated>
  </entry>
</feed>`

func feedServer(t *testing.T, doc string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	hits := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func TestParsesRSSDialect(t *testing.T) {
	t.Parallel()

	srv, _ := feedServer(t, rssDoc)
	c := New(srv.URL, srv.Client(), nil)

	corpus, err := c.Get(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, "Engineering Notes", corpus.FeedTitle)
	require.Len(t, corpus.Items, 2)
	require.Equal(t, "Streaming pipelines", corpus.Items[0].Title)
	require.Equal(t, "Lessons from a year of streaming.", corpus.Items[0].Summary)
	require.Equal(t, "https://blog.example.org/streaming", corpus.Items[0].URL)
	require.Equal(t, []string{"data"}, corpus.Items[0].Tags)
	require.False(t, corpus.Items[0].PublishedAt.IsZero())
}

func TestParsesAtomDialect(t *testing.T) {
	t.Parallel()

	srv, _ := feedServer(t, atomDoc)
	c := New(srv.URL, srv.Client(), nil)

	corpus, err := c.Get(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, "Atom Notes", corpus.FeedTitle)
	require.Len(t, corpus.Items, 1)
	require.Equal(t, "Retry budgets", corpus.Items[0].Title)
	require.Equal(t, "How many attempts are enough.", corpus.Items[0].Summary)
}

func TestTTLFreshnessWindow(t *testing.T) {
	t.Parallel()

	srv, hits := feedServer(t, rssDoc)
	c := New(srv.URL, srv.Client(), nil)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	clock := base
	c.now = func() time.Time { return clock }

	ttl := 60 * time.Minute

	first, err := c.Get(context.Background(), ttl)
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())

	// 30 minutes in: served from cache unchanged.
	clock = base.Add(30 * time.Minute)
	second, err := c.Get(context.Background(), ttl)
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())
	require.Equal(t, first.FetchedAt, second.FetchedAt)

	// 61 minutes in: first access past the TTL triggers fetch-and-replace.
	clock = base.Add(61 * time.Minute)
	third, err := c.Get(context.Background(), ttl)
	require.NoError(t, err)
	require.Equal(t, int64(2), hits.Load())
	require.True(t, third.FetchedAt.After(first.FetchedAt))
}

func TestStaleCorpusServedWhenRefetchFails(t *testing.T) {
	t.Parallel()

	hits := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(rssDoc))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client(), nil)
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	corpus, err := c.Get(context.Background(), time.Hour)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	stale, err := c.Get(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, corpus.FetchedAt, stale.FetchedAt)
	// Callers needing strict freshness see the expiry themselves.
	require.False(t, stale.Fresh(clock, time.Hour))
}

func TestFetchErrorWithEmptyCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client(), nil)
	_, err := c.Get(context.Background(), time.Hour)
	var fetchErr *domain.FeedFetchError
	require.True(t, errors.As(err, &fetchErr))
}

func TestMalformedFeedIsAParseError(t *testing.T) {
	t.Parallel()

	srv, _ := feedServer(t, "this is not a feed document")
	c := New(srv.URL, srv.Client(), nil)

	_, err := c.Get(context.Background(), time.Hour)
	var parseErr *domain.FeedParseError
	require.True(t, errors.As(err, &parseErr))
}

func TestProbeReturnsTitleAndCountWithoutCaching(t *testing.T) {
	t.Parallel()

	srv, hits := feedServer(t, rssDoc)
	c := New("https://unused.example.org/feed.xml", srv.Client(), nil)

	title, count, err := c.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Engineering Notes", title)
	require.Equal(t, 2, count)
	require.Equal(t, int64(1), hits.Load())
	require.Nil(t, c.snapshot())
}
