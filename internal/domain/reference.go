package domain

import "time"

// ReferenceItem is one entry of the external corpus used for matching.
type ReferenceItem struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// ReferenceCorpus is a fetched snapshot of the reference feed.
type ReferenceCorpus struct {
	FeedTitle string          `json:"feedTitle"`
	Items     []ReferenceItem `json:"items"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// ExpiresAt derives the freshness deadline for the given TTL.
func (c *ReferenceCorpus) ExpiresAt(ttl time.Duration) time.Time {
	return c.FetchedAt.Add(ttl)
}

// Fresh reports whether the corpus is still inside its TTL at the given
// instant. A stale corpus may still be served, but only as an explicit
// fallback.
func (c *ReferenceCorpus) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Before(c.ExpiresAt(ttl))
}
