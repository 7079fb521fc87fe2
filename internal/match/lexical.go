package match

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

// stopwords excluded from term extraction; scoring on them would make
// every record look related to everything.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "are": {}, "was": {}, "you": {}, "your": {}, "our": {},
	"has": {}, "have": {}, "will": {}, "not": {}, "but": {}, "its": {},
	"can": {}, "all": {}, "how": {}, "why": {}, "what": {}, "when": {},
	"about": {}, "into": {}, "more": {}, "than": {}, "they": {}, "their": {},
}

// LexicalScorer ranks records by normalized term overlap against reference
// item titles and tags. Deterministic and synchronous; no external calls.
type LexicalScorer struct {
	now func() time.Time
}

var _ ports.Scorer = (*LexicalScorer)(nil)

// NewLexicalScorer builds the heuristic strategy.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{now: time.Now}
}

// Strategy identifies the scorer inside the engine.
func (s *LexicalScorer) Strategy() domain.Strategy { return domain.StrategyLexical }

// Score computes, for every record, the best term-overlap ratio across the
// corpus. Identical (record, corpus) inputs always yield the identical
// score and reason.
func (s *LexicalScorer) Score(_ context.Context, records []domain.Record, corpus *domain.ReferenceCorpus) (map[string]domain.MatchResult, error) {
	itemTerms := make([]map[string]struct{}, len(corpus.Items))
	for i, item := range corpus.Items {
		terms := tokenize(item.Title)
		for _, tag := range item.Tags {
			for t := range tokenize(tag) {
				terms[t] = struct{}{}
			}
		}
		itemTerms[i] = terms
	}

	out := make(map[string]domain.MatchResult, len(records))
	computedAt := s.now().UTC()
	for _, rec := range records {
		recTerms := tokenize(rec.Content)
		if rec.Original != nil {
			for t := range tokenize(rec.Original.Content) {
				recTerms[t] = struct{}{}
			}
		}

		best := -1
		bestScore := 0.0
		var bestShared []string
		for i, terms := range itemTerms {
			if len(terms) == 0 {
				continue
			}
			shared := intersect(recTerms, terms)
			score := float64(len(shared)) / float64(len(terms))
			if score > 1 {
				score = 1
			}
			// Strictly-greater keeps the first best item, so corpus
			// order fully determines ties.
			if score > bestScore {
				best, bestScore, bestShared = i, score, shared
			}
		}

		res := domain.MatchResult{
			RecordID:   rec.ID,
			Strategy:   domain.StrategyLexical,
			ComputedAt: computedAt,
		}
		if best >= 0 {
			item := corpus.Items[best]
			res.Score = bestScore
			res.MatchedItem = &item
			res.Reason = fmt.Sprintf("shares %d term(s) with %q: %s",
				len(bestShared), item.Title, strings.Join(bestShared, ", "))
		} else {
			res.Reason = "no term overlap with the reference corpus"
		}
		out[rec.ID] = res
	}
	return out, nil
}

func tokenize(text string) map[string]struct{} {
	terms := map[string]struct{}{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		terms[w] = struct{}{}
	}
	return terms
}

func intersect(a, b map[string]struct{}) []string {
	var shared []string
	for t := range a {
		if _, ok := b[t]; ok {
			shared = append(shared, t)
		}
	}
	sort.Strings(shared)
	return shared
}
