package ports

import (
	"context"
	"time"

	"ReplyScanner/internal/domain"
)

// RecordStore persists extracted records for deduplication and history.
type RecordStore interface {
	// StoreRecords inserts the batch, skipping ids already present.
	// It reports how many were newly stored, how many were duplicates,
	// and the running total after the insert.
	StoreRecords(ctx context.Context, records []domain.Record) (stored, duplicates, total int, err error)
	Contains(ctx context.Context, id string) (bool, error)
	// Unmatched returns stored records lacking a result for the given
	// strategy and corpus snapshot.
	Unmatched(ctx context.Context, strategy domain.Strategy, corpusFetchedAt time.Time) ([]domain.Record, error)
}

// MatchResultStore persists match results keyed by record id.
type MatchResultStore interface {
	SaveResult(ctx context.Context, result domain.MatchResult, corpusFetchedAt time.Time) error
	LoadResult(ctx context.Context, recordID string, strategy domain.Strategy, corpusFetchedAt time.Time) (*domain.MatchResult, error)
}

// ReferenceSource supplies the corpus used as the basis for scoring.
type ReferenceSource interface {
	Get(ctx context.Context, ttl time.Duration) (*domain.ReferenceCorpus, error)
	Probe(ctx context.Context, feedURL string) (title string, itemCount int, err error)
}

// Scorer ranks a batch of records against a corpus snapshot. Records the
// scorer cannot resolve are simply absent from the returned map.
type Scorer interface {
	Strategy() domain.Strategy
	Score(ctx context.Context, records []domain.Record, corpus *domain.ReferenceCorpus) (map[string]domain.MatchResult, error)
}

// RequestOptions parameterizes one external API call.
type RequestOptions struct {
	Endpoint string
	Method   string
	Timeout  time.Duration
}

// APIClient is the generic external request layer used by scorers and the
// model registry.
type APIClient interface {
	Request(ctx context.Context, payload, out any, opts RequestOptions) error
}
