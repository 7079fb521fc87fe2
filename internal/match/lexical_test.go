package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ReplyScanner/internal/domain"
)

func fixedClock() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func testCorpus() *domain.ReferenceCorpus {
	return &domain.ReferenceCorpus{
		FeedTitle: "Engineering Notes",
		FetchedAt: fixedClock().Add(-time.Minute),
		Items: []domain.ReferenceItem{
			{Title: "Streaming pipelines at scale", URL: "https://blog.example.org/streaming", Tags: []string{"kafka"}},
			{Title: "Cache invalidation patterns", URL: "https://blog.example.org/cache"},
			{Title: "Hiring engineers remotely", URL: "https://blog.example.org/hiring"},
		},
	}
}

func TestLexicalScoreIsDeterministic(t *testing.T) {
	t.Parallel()

	s := NewLexicalScorer()
	s.now = fixedClock
	records := []domain.Record{
		{ID: "r1", Content: "We rebuilt our streaming pipelines on kafka last quarter."},
		{ID: "r2", Content: "Cache invalidation keeps biting us in production."},
	}

	first, err := s.Score(context.Background(), records, testCorpus())
	require.NoError(t, err)
	second, err := s.Score(context.Background(), records, testCorpus())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLexicalPicksBestOverlappingItem(t *testing.T) {
	t.Parallel()

	s := NewLexicalScorer()
	s.now = fixedClock
	records := []domain.Record{
		{ID: "r1", Content: "Cache invalidation patterns are hard to get right."},
	}

	out, err := s.Score(context.Background(), records, testCorpus())
	require.NoError(t, err)

	res := out["r1"]
	require.NotNil(t, res.MatchedItem)
	require.Equal(t, "https://blog.example.org/cache", res.MatchedItem.URL)
	require.Greater(t, res.Score, 0.5)
	require.Contains(t, res.Reason, "cache")
	require.Equal(t, domain.StrategyLexical, res.Strategy)
}

func TestLexicalIncludesRepostOriginalTerms(t *testing.T) {
	t.Parallel()

	s := NewLexicalScorer()
	records := []domain.Record{
		{
			ID:       "r1",
			Content:  "Worth a read.",
			IsRepost: true,
			Original: &domain.OriginalRecord{Content: "Streaming pipelines with kafka explained for beginners."},
		},
	}

	out, err := s.Score(context.Background(), records, testCorpus())
	require.NoError(t, err)
	require.NotNil(t, out["r1"].MatchedItem)
	require.Equal(t, "https://blog.example.org/streaming", out["r1"].MatchedItem.URL)
}

func TestLexicalZeroOverlap(t *testing.T) {
	t.Parallel()

	s := NewLexicalScorer()
	records := []domain.Record{
		{ID: "r1", Content: "Beautiful sunset over the harbor tonight."},
	}

	out, err := s.Score(context.Background(), records, testCorpus())
	require.NoError(t, err)

	res := out["r1"]
	require.Zero(t, res.Score)
	require.Nil(t, res.MatchedItem)
	require.Equal(t, "no term overlap with the reference corpus", res.Reason)
}

func TestTokenizeDropsShortAndStopwords(t *testing.T) {
	t.Parallel()

	terms := tokenize("The cache AND the big Cache, at it!")
	require.Contains(t, terms, "cache")
	require.Contains(t, terms, "big")
	require.NotContains(t, terms, "the")
	require.NotContains(t, terms, "and")
	require.NotContains(t, terms, "at")
	require.NotContains(t, terms, "it")
}
