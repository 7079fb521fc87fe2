package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

// HeatChecker estimates tone and engagement potential for already-matched
// records. Best-effort: a failed check never invalidates the match.
type HeatChecker interface {
	Check(ctx context.Context, results []domain.MatchResult) (map[string]domain.Heat, error)
}

// APIHeatChecker runs the heat check through the external API.
type APIHeatChecker struct {
	client   ports.APIClient
	endpoint string
	model    string
	timeout  time.Duration
}

var _ HeatChecker = (*APIHeatChecker)(nil)

// NewAPIHeatChecker wires the enrichment pass onto an API client.
func NewAPIHeatChecker(client ports.APIClient, model string, timeout time.Duration) *APIHeatChecker {
	return &APIHeatChecker{
		client:   client,
		endpoint: "/chat/completions",
		model:    model,
		timeout:  timeout,
	}
}

// Check requests tone/engagement estimates for the batch. Unresolvable
// entries are simply absent from the returned map.
func (h *APIHeatChecker) Check(ctx context.Context, results []domain.MatchResult) (map[string]domain.Heat, error) {
	var b strings.Builder
	b.WriteString("Estimate reply heat for the following matched posts. " +
		"Respond with JSON only: {\"heat\":[{\"id\",\"tone\",\"engagement_potential\" (0..1)}]}.\n")
	for _, res := range results {
		fmt.Fprintf(&b, "- id=%s score=%.2f reason=%s\n", res.RecordID, res.Score, clip(res.Reason, summaryClip))
	}

	payload := chatRequest{
		Model:    h.model,
		Messages: []chatMessage{{Role: "user", Content: b.String()}},
	}
	var resp chatResponse
	err := h.client.Request(ctx, payload, &resp, ports.RequestOptions{Endpoint: h.endpoint, Timeout: h.timeout})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("heat response has no choices")
	}

	var parsed struct {
		Heat []struct {
			ID                  string  `json:"id"`
			Tone                string  `json:"tone"`
			EngagementPotential float64 `json:"engagement_potential"`
		} `json:"heat"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Choices[0].Message.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("parse heat response: %w", err)
	}

	out := make(map[string]domain.Heat, len(parsed.Heat))
	for _, entry := range parsed.Heat {
		if entry.ID == "" {
			continue
		}
		out[entry.ID] = domain.Heat{
			Tone:                strings.TrimSpace(entry.Tone),
			EngagementPotential: entry.EngagementPotential,
		}
	}
	return out, nil
}
