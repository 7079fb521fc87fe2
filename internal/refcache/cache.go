// Package refcache fetches the external reference feed and serves it with
// time-to-live semantics. Stale corpora are served only as an explicit
// fallback when a refetch fails, never silently as fresh.
package refcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/singleflight"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

const fetchTimeout = 15 * time.Second

// Cache holds at most one corpus snapshot for a configured feed URL.
type Cache struct {
	feedURL string
	client  *http.Client
	log     *slog.Logger
	now     func() time.Time

	sf      singleflight.Group
	mu      sync.RWMutex
	current *domain.ReferenceCorpus
}

var _ ports.ReferenceSource = (*Cache)(nil)

// New builds a cache for the given feed URL.
func New(feedURL string, client *http.Client, log *slog.Logger) *Cache {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		feedURL: feedURL,
		client:  client,
		log:     log,
		now:     time.Now,
	}
	return c
}

// Get returns the cached corpus when fresh, otherwise fetch-and-replace.
// On fetch failure the previous (possibly stale) corpus is returned when
// one exists; the fetch error is raised only with an empty cache. Callers
// needing strict freshness check ExpiresAt themselves.
func (c *Cache) Get(ctx context.Context, ttl time.Duration) (*domain.ReferenceCorpus, error) {
	if cur := c.snapshot(); cur != nil && cur.Fresh(c.now(), ttl) {
		return cur, nil
	}

	fetched, err, _ := c.sf.Do("refetch", func() (any, error) {
		corpus, err := c.fetch(ctx, c.feedURL)
		if err != nil {
			return nil, err
		}
		c.replace(corpus)
		return corpus, nil
	})
	if err != nil {
		if cur := c.snapshot(); cur != nil {
			c.log.Warn("reference refetch failed, serving stale corpus",
				"error", err, "fetchedAt", cur.FetchedAt)
			return cur, nil
		}
		return nil, err
	}
	return fetched.(*domain.ReferenceCorpus), nil
}

// Probe fetches and parses the given URL without touching the cache,
// returning just the feed title and item count. Used by the
// test-connection collaborator as a cheap validation check.
func (c *Cache) Probe(ctx context.Context, feedURL string) (string, int, error) {
	corpus, err := c.fetch(ctx, feedURL)
	if err != nil {
		return "", 0, err
	}
	return corpus.FeedTitle, len(corpus.Items), nil
}

func (c *Cache) fetch(ctx context.Context, feedURL string) (*domain.ReferenceCorpus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &domain.FeedFetchError{URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", "ReplyScanner/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.FeedFetchError{URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FeedFetchError{URL: feedURL, Err: fmt.Errorf("feed returned %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &domain.FeedFetchError{URL: feedURL, Err: err}
	}

	// gofeed detects RSS vs Atom, covering both dialects the corpus
	// may arrive in.
	feed, err := gofeed.NewParser().Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, &domain.FeedParseError{URL: feedURL, Err: err}
	}

	corpus := &domain.ReferenceCorpus{
		FeedTitle: strings.TrimSpace(feed.Title),
		FetchedAt: c.now().UTC(),
	}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		ref := domain.ReferenceItem{
			Title:   strings.TrimSpace(item.Title),
			Summary: strings.TrimSpace(item.Description),
			URL:     strings.TrimSpace(item.Link),
			Tags:    item.Categories,
		}
		if ref.Summary == "" {
			ref.Summary = strings.TrimSpace(item.Content)
		}
		if item.PublishedParsed != nil {
			ref.PublishedAt = item.PublishedParsed.UTC()
		}
		if ref.Title == "" && ref.Summary == "" {
			continue
		}
		corpus.Items = append(corpus.Items, ref)
	}
	return corpus, nil
}

func (c *Cache) snapshot() *domain.ReferenceCorpus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Cache) replace(corpus *domain.ReferenceCorpus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = corpus
}
