// Package usecase wires the collaborator message contract to the
// extraction, caching, matching, and storage components.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/match"
	"ReplyScanner/internal/msgbus"
	"ReplyScanner/internal/ports"
)

// Locator answers LOCATE_RECORD requests against the live tree.
type Locator interface {
	Locate(id string) bool
}

// ServiceDeps wires all collaborators into the matching service.
type ServiceDeps struct {
	Bus       *msgbus.Bus
	Records   ports.RecordStore
	Results   ports.MatchResultStore
	Reference ports.ReferenceSource
	Engine    *match.Engine
	Heat      match.HeatChecker
	Locator   Locator

	Strategy     domain.Strategy
	ReferenceTTL time.Duration
	Threshold    float64
	Logger       *slog.Logger
}

// Service owns the matching/storage side of the message boundary.
type Service struct {
	bus       *msgbus.Bus
	records   ports.RecordStore
	results   ports.MatchResultStore
	reference ports.ReferenceSource
	engine    *match.Engine
	heat      match.HeatChecker
	locator   Locator

	strategy     domain.Strategy
	referenceTTL time.Duration
	threshold    float64
	log          *slog.Logger
}

// NewService builds the service and registers its bus handlers.
func NewService(deps ServiceDeps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	strategy := deps.Strategy
	if strategy == "" {
		strategy = domain.StrategyLexical
	}
	ttl := deps.ReferenceTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	s := &Service{
		bus:          deps.Bus,
		records:      deps.Records,
		results:      deps.Results,
		reference:    deps.Reference,
		engine:       deps.Engine,
		heat:         deps.Heat,
		locator:      deps.Locator,
		strategy:     strategy,
		referenceTTL: ttl,
		threshold:    deps.Threshold,
		log:          log,
	}
	s.register()
	return s
}

func (s *Service) register() {
	s.bus.Handle(msgbus.TypeSourceReady, s.handleSourceReady)
	s.bus.Handle(msgbus.TypeRecordsExtracted, s.handleRecordsExtracted)
	s.bus.Handle(msgbus.TypeLocateRecord, s.handleLocateRecord)
	s.bus.Handle(msgbus.TypeRunMatching, s.handleRunMatching)
	s.bus.Handle(msgbus.TypeFetchReferenceContent, s.handleFetchReference)
}

func (s *Service) handleSourceReady(_ context.Context, payload json.RawMessage) (any, error) {
	var msg msgbus.SourceReady
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode SOURCE_READY: %w", err)
	}
	s.log.Info("source ready", "source", msg.SourceID, "page", msg.PageURL, "relevant", msg.IsRelevantPage)
	return msgbus.Ack{}, nil
}

func (s *Service) handleRecordsExtracted(ctx context.Context, payload json.RawMessage) (any, error) {
	var msg msgbus.RecordsExtracted
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode RECORDS_EXTRACTED: %w", err)
	}

	stored, duplicates, total, err := s.records.StoreRecords(ctx, msg.Records)
	if err != nil {
		return nil, err
	}
	s.log.Info("records stored",
		"source", msg.SourceID, "stored", stored, "duplicates", duplicates, "total", total)
	return msgbus.RecordsStored{
		StoredCount:    stored,
		DuplicateCount: duplicates,
		TotalStored:    total,
	}, nil
}

func (s *Service) handleLocateRecord(ctx context.Context, payload json.RawMessage) (any, error) {
	var msg msgbus.LocateRecord
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode LOCATE_RECORD: %w", err)
	}
	if s.locator != nil && s.locator.Locate(msg.ID) {
		return msgbus.LocateResult{Found: true}, nil
	}
	found, err := s.records.Contains(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	return msgbus.LocateResult{Found: found}, nil
}

// handleRunMatching scores stored, still-unmatched records against the
// (possibly refreshed) corpus, persists results, and runs the best-effort
// heat check. Credit exhaustion comes back as a typed, machine-readable
// response rather than a bare error string.
func (s *Service) handleRunMatching(ctx context.Context, payload json.RawMessage) (any, error) {
	_ = payload // RUN_MATCHING carries no parameters

	corpus, err := s.reference.Get(ctx, s.referenceTTL)
	if err != nil {
		return msgbus.RunMatchingResult{Success: false, Error: err.Error()}, nil
	}

	pending, err := s.records.Unmatched(ctx, s.strategy, corpus.FetchedAt)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return msgbus.RunMatchingResult{Success: true}, nil
	}

	results, err := s.engine.Match(ctx, pending, corpus, s.strategy)
	if err != nil {
		var credits *domain.InsufficientCreditsError
		if errors.As(err, &credits) {
			return msgbus.RunMatchingResult{
				Success:         false,
				Error:           "INSUFFICIENT_CREDITS",
				RequestedTokens: credits.RequestedTokens,
				AvailableTokens: credits.AvailableTokens,
			}, nil
		}
		return msgbus.RunMatchingResult{Success: false, Error: err.Error()}, nil
	}

	results = s.engine.Enrich(ctx, results, corpus, s.heat)

	for _, res := range results {
		if err := s.results.SaveResult(ctx, res, corpus.FetchedAt); err != nil {
			s.log.Warn("persist match result failed", "record", res.RecordID, "error", err)
		}
	}

	relevant := match.FilterByThreshold(results, s.threshold)
	s.log.Info("matching pass complete",
		"pending", len(pending), "scored", len(results), "aboveThreshold", len(relevant))
	return msgbus.RunMatchingResult{Success: true, Matched: len(results)}, nil
}

func (s *Service) handleFetchReference(ctx context.Context, payload json.RawMessage) (any, error) {
	var msg msgbus.FetchReferenceContent
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode FETCH_REFERENCE_CONTENT: %w", err)
	}
	title, count, err := s.reference.Probe(ctx, msg.URL)
	if err != nil {
		return nil, err
	}
	return msgbus.FetchReferenceResult{FeedTitle: title, ItemCount: count}, nil
}
