package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

const (
	// maxBatchRecords caps how many records travel in one API call.
	maxBatchRecords = 10
	// maxStyleExamples caps the user's writing-style examples embedded
	// in the reply-generation prompt, most recent first.
	maxStyleExamples = 12
	// maxSuggestions caps generated reply drafts per record.
	maxSuggestions = 3

	summaryClip = 240
)

// SemanticConfig tunes the LLM-backed strategy.
type SemanticConfig struct {
	Endpoint      string
	Model         string
	StyleExamples []string
	Timeout       time.Duration
}

// SemanticScorer batches records into one external API call and parses the
// structured response per record; a malformed entry downgrades that record
// to unscored instead of failing the batch.
type SemanticScorer struct {
	client ports.APIClient
	cfg    SemanticConfig
	log    *slog.Logger
	now    func() time.Time
}

var _ ports.Scorer = (*SemanticScorer)(nil)

// NewSemanticScorer wires the strategy onto an API client.
func NewSemanticScorer(client ports.APIClient, cfg SemanticConfig, log *slog.Logger) *SemanticScorer {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/chat/completions"
	}
	if log == nil {
		log = slog.Default()
	}
	return &SemanticScorer{client: client, cfg: cfg, log: log, now: time.Now}
}

// Strategy identifies the scorer inside the engine.
func (s *SemanticScorer) Strategy() domain.Strategy { return domain.StrategySemantic }

// Score runs the batch through the external API in chunks.
func (s *SemanticScorer) Score(ctx context.Context, records []domain.Record, corpus *domain.ReferenceCorpus) (map[string]domain.MatchResult, error) {
	out := make(map[string]domain.MatchResult, len(records))
	for start := 0; start < len(records); start += maxBatchRecords {
		end := start + maxBatchRecords
		if end > len(records) {
			end = len(records)
		}
		if err := s.scoreChunk(ctx, records[start:end], corpus, out); err != nil {
			return out, err
		}
	}
	return out, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// batchEntry is one record's slot in the structured model response.
type batchEntry struct {
	ID          string   `json:"id"`
	Score       *float64 `json:"score"`
	Reason      string   `json:"reason"`
	MatchedURL  string   `json:"matched_url"`
	Suggestions []string `json:"suggestions"`
}

func (s *SemanticScorer) scoreChunk(ctx context.Context, records []domain.Record, corpus *domain.ReferenceCorpus, out map[string]domain.MatchResult) error {
	payload := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: s.buildPrompt(records, corpus)},
		},
	}

	var resp chatResponse
	err := s.client.Request(ctx, payload, &resp, ports.RequestOptions{
		Endpoint: s.cfg.Endpoint,
		Timeout:  s.cfg.Timeout,
	})
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("semantic response has no choices")
	}

	var parsed struct {
		Results []json.RawMessage `json:"results"`
	}
	content := extractJSON(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return fmt.Errorf("semantic response is not the expected envelope: %w", err)
	}

	byURL := map[string]*domain.ReferenceItem{}
	for i := range corpus.Items {
		byURL[corpus.Items[i].URL] = &corpus.Items[i]
	}
	known := map[string]struct{}{}
	for _, rec := range records {
		known[rec.ID] = struct{}{}
	}

	computedAt := s.now().UTC()
	for _, raw := range parsed.Results {
		var entry batchEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			s.log.Warn("unparseable batch entry skipped", "error", &domain.MatchParseError{Err: err})
			continue
		}
		if _, ok := known[entry.ID]; !ok {
			continue
		}
		// A partial entry downgrades this record to unscored; the
		// rest of the batch is unaffected.
		if entry.Score == nil || *entry.Score < 0 || *entry.Score > 1 {
			s.log.Warn("batch entry left unscored",
				"error", &domain.MatchParseError{RecordID: entry.ID, Err: fmt.Errorf("missing or out-of-range score")})
			continue
		}

		res := domain.MatchResult{
			RecordID:   entry.ID,
			Score:      *entry.Score,
			Reason:     strings.TrimSpace(entry.Reason),
			Strategy:   domain.StrategySemantic,
			ComputedAt: computedAt,
		}
		matched := byURL[entry.MatchedURL]
		if matched != nil {
			item := *matched
			res.MatchedItem = &item
		}
		for _, text := range entry.Suggestions {
			if len(res.Suggestions) == maxSuggestions {
				break
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			sug := domain.Suggestion{Text: text}
			if matched != nil {
				sug.ReferenceURL = matched.URL
				sug.Text = text + "\n\n" + matched.URL
			}
			res.Suggestions = append(res.Suggestions, sug)
		}
		out[entry.ID] = res
	}
	return nil
}

const systemPrompt = "You rate social posts for reply-worthiness against a reference corpus. " +
	"Respond with JSON only: {\"results\":[{\"id\",\"score\" (0..1),\"reason\",\"matched_url\",\"suggestions\":[...]}]}."

func (s *SemanticScorer) buildPrompt(records []domain.Record, corpus *domain.ReferenceCorpus) string {
	var b strings.Builder

	b.WriteString("Reference corpus:\n")
	for _, item := range corpus.Items {
		fmt.Fprintf(&b, "- %s | %s | %s\n", item.Title, clip(item.Summary, summaryClip), item.URL)
	}

	examples := s.cfg.StyleExamples
	if len(examples) > maxStyleExamples {
		examples = examples[:maxStyleExamples]
	}
	if len(examples) > 0 {
		b.WriteString("\nWriting-style examples (most recent first):\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "- %s\n", clip(ex, summaryClip))
		}
	}

	b.WriteString("\nPosts to rate:\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "- id=%s author=%s content=%s\n", rec.ID, rec.AuthorName, clip(rec.Content, 600))
	}
	return b.String()
}

// extractJSON tolerates models wrapping the payload in a code fence.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
