package domain

import "time"

// ContentType classifies the media carried by a post.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentArticle  ContentType = "article"
	ContentDocument ContentType = "document"
	ContentPoll     ContentType = "poll"
)

// EngagementCounts carries the public reaction counters of a post.
type EngagementCounts struct {
	Reactions int `json:"reactions"`
	Comments  int `json:"comments"`
	Reposts   int `json:"reposts"`
}

// OriginalRecord holds the author and body of a reposted entry, extracted
// best-effort from the repost wrapper.
type OriginalRecord struct {
	AuthorName string `json:"authorName"`
	Content    string `json:"content"`
}

// Record is the normalized unit of work produced by a source adapter.
// Its ID is stable across re-extraction of unchanged content; records are
// immutable once created.
type Record struct {
	ID             string            `json:"id"`
	SourceID       string            `json:"sourceId"`
	URL            string            `json:"url"`
	AuthorName     string            `json:"authorName"`
	Content        string            `json:"content"`
	PublishedAt    *time.Time        `json:"publishedAt,omitempty"`
	Engagement     *EngagementCounts `json:"engagementCounts,omitempty"`
	IsRepost       bool              `json:"isRepost"`
	Original       *OriginalRecord   `json:"originalRecord,omitempty"`
	ContentType    ContentType       `json:"contentType"`
	ExtractedAt    time.Time         `json:"extractedAt"`
}
