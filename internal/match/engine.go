// Package match ranks records against the reference corpus with two
// interchangeable strategies and caches results by content identity so
// identical inputs never re-trigger paid calls.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

type resultKey struct {
	recordID string
	strategy domain.Strategy
	corpusAt int64
}

// Engine owns the match-result cache and serializes scoring per record:
// a request for a record already being scored awaits the in-flight result
// instead of issuing a duplicate external call.
type Engine struct {
	scorers map[domain.Strategy]ports.Scorer
	log     *slog.Logger

	mu       sync.Mutex
	results  map[resultKey]domain.MatchResult
	inflight map[resultKey]chan struct{}
}

// NewEngine registers the given scorers.
func NewEngine(log *slog.Logger, scorers ...ports.Scorer) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		scorers:  map[domain.Strategy]ports.Scorer{},
		log:      log,
		results:  map[resultKey]domain.MatchResult{},
		inflight: map[resultKey]chan struct{}{},
	}
	for _, s := range scorers {
		e.scorers[s.Strategy()] = s
	}
	return e
}

// Match scores the batch with the named strategy. Cached results keyed by
// (record id, strategy, corpus fetch time) come back unchanged without an
// external call; only the remainder is handed to the scorer. Records the
// scorer leaves unresolved stay unscored and are absent from the output.
func (e *Engine) Match(ctx context.Context, records []domain.Record, corpus *domain.ReferenceCorpus, strategy domain.Strategy) ([]domain.MatchResult, error) {
	scorer, ok := e.scorers[strategy]
	if !ok {
		return nil, fmt.Errorf("match: unknown strategy %q", strategy)
	}
	if corpus == nil {
		return nil, fmt.Errorf("match: nil corpus")
	}
	corpusAt := corpus.FetchedAt.UnixNano()

	for {
		cached, todo, wait := e.partition(records, strategy, corpusAt)
		if len(wait) > 0 && len(todo) == 0 {
			// Everything uncached is being scored by another call.
			if err := awaitAll(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if len(todo) == 0 {
			return cached, nil
		}

		scored, err := scorer.Score(ctx, todo, corpus)
		e.finish(todo, strategy, corpusAt, scored)
		if err != nil {
			return nil, err
		}

		if err := awaitAll(ctx, wait); err != nil {
			return nil, err
		}
		results := cached
		for _, rec := range todo {
			if res, ok := scored[rec.ID]; ok {
				results = append(results, res)
			}
		}
		for _, w := range wait {
			if res, ok := e.lookup(w.key); ok {
				results = append(results, res)
			}
		}
		return results, nil
	}
}

// Lookup returns the cached result for one record if present.
func (e *Engine) Lookup(recordID string, strategy domain.Strategy, corpusFetchedAt time.Time) (domain.MatchResult, bool) {
	return e.lookup(resultKey{recordID, strategy, corpusFetchedAt.UnixNano()})
}

// Attach stores an externally computed result (e.g. loaded from the
// persistent store) into the cache.
func (e *Engine) Attach(result domain.MatchResult, corpusFetchedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[resultKey{result.RecordID, result.Strategy, corpusFetchedAt.UnixNano()}] = result
}

// Enrich runs the heat-check pass over already-matched records. Failure is
// logged and leaves the underlying matches intact; the pass is
// independently retryable.
func (e *Engine) Enrich(ctx context.Context, results []domain.MatchResult, corpus *domain.ReferenceCorpus, checker HeatChecker) []domain.MatchResult {
	if checker == nil || len(results) == 0 {
		return results
	}
	heats, err := checker.Check(ctx, results)
	if err != nil {
		e.log.Warn("heat check failed, keeping matches unenriched", "error", err)
		return results
	}
	corpusAt := corpus.FetchedAt.UnixNano()
	out := make([]domain.MatchResult, len(results))
	for i, res := range results {
		if heat, ok := heats[res.RecordID]; ok {
			res.Heat = &heat
			e.mu.Lock()
			e.results[resultKey{res.RecordID, res.Strategy, corpusAt}] = res
			e.mu.Unlock()
		}
		out[i] = res
	}
	return out
}

// FilterByThreshold applies the configurable relevance floor at the
// presentation boundary. The threshold is not part of the cache key, so
// changing it never forces recomputation.
func FilterByThreshold(results []domain.MatchResult, threshold float64) []domain.MatchResult {
	out := make([]domain.MatchResult, 0, len(results))
	for _, res := range results {
		if res.Score >= threshold {
			out = append(out, res)
		}
	}
	return out
}

type waiter struct {
	key  resultKey
	done chan struct{}
}

// partition splits the batch into cached results, records this call must
// score (marked in-flight), and records another call is already scoring.
func (e *Engine) partition(records []domain.Record, strategy domain.Strategy, corpusAt int64) (cached []domain.MatchResult, todo []domain.Record, wait []waiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := map[string]struct{}{}
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}

		key := resultKey{rec.ID, strategy, corpusAt}
		if res, ok := e.results[key]; ok {
			cached = append(cached, res)
			continue
		}
		if done, ok := e.inflight[key]; ok {
			wait = append(wait, waiter{key: key, done: done})
			continue
		}
		done := make(chan struct{})
		e.inflight[key] = done
		todo = append(todo, rec)
	}
	return cached, todo, wait
}

// finish records scorer output and releases the in-flight markers.
func (e *Engine) finish(todo []domain.Record, strategy domain.Strategy, corpusAt int64, scored map[string]domain.MatchResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range todo {
		key := resultKey{rec.ID, strategy, corpusAt}
		if res, ok := scored[rec.ID]; ok {
			e.results[key] = res
		}
		if done, ok := e.inflight[key]; ok {
			close(done)
			delete(e.inflight, key)
		}
	}
}

func (e *Engine) lookup(key resultKey) (domain.MatchResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.results[key]
	return res, ok
}

func awaitAll(ctx context.Context, waiters []waiter) error {
	for _, w := range waiters {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
		}
	}
	return nil
}
