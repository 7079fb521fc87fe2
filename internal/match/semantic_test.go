package match

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

// scriptedAPI hands back prepared chat completions and records prompts.
type scriptedAPI struct {
	responses []string
	calls     int
	prompts   []string
	err       error
}

func (f *scriptedAPI) Request(_ context.Context, payload, out any, _ ports.RequestOptions) error {
	f.calls++
	if req, ok := payload.(chatRequest); ok {
		for _, msg := range req.Messages {
			f.prompts = append(f.prompts, msg.Content)
		}
	}
	if f.err != nil {
		return f.err
	}
	content := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	resp := chatResponse{}
	resp.Choices = append(resp.Choices, struct {
		Message chatMessage `json:"message"`
	}{Message: chatMessage{Role: "assistant", Content: content}})

	raw, _ := json.Marshal(resp)
	return json.Unmarshal(raw, out)
}

func envelope(entries ...string) string {
	return `{"results":[` + strings.Join(entries, ",") + `]}`
}

func TestSemanticParsesBatchResponse(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{responses: []string{envelope(
		`{"id":"r1","score":0.9,"reason":"directly about caching","matched_url":"https://blog.example.org/cache","suggestions":["We wrote about this exact failure mode."]}`,
		`{"id":"r2","score":0.1,"reason":"off topic"}`,
	)}}
	s := NewSemanticScorer(api, SemanticConfig{Model: "gpt-4o-mini"}, nil)
	s.now = fixedClock

	out, err := s.Score(context.Background(), recs("r1", "r2"), testCorpus())
	require.NoError(t, err)
	require.Len(t, out, 2)

	r1 := out["r1"]
	require.Equal(t, 0.9, r1.Score)
	require.Equal(t, domain.StrategySemantic, r1.Strategy)
	require.NotNil(t, r1.MatchedItem)
	require.Equal(t, "https://blog.example.org/cache", r1.MatchedItem.URL)
	require.Len(t, r1.Suggestions, 1)
	require.Equal(t, "https://blog.example.org/cache", r1.Suggestions[0].ReferenceURL)
	require.True(t, strings.HasSuffix(r1.Suggestions[0].Text, "https://blog.example.org/cache"))

	require.Nil(t, out["r2"].MatchedItem)
}

func TestSemanticToleratesPartialEntries(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{responses: []string{envelope(
		`{"id":"r1","score":0.8,"reason":"relevant"}`,
		`{"id":"r2","reason":"score went missing"}`,
		`{"id":"r3","score":1.7,"reason":"out of range"}`,
		`{"id":"r4","score":0.2,"reason":"weak"}`,
		`{"id":"unknown","score":0.5,"reason":"not in the batch"}`,
	)}}
	s := NewSemanticScorer(api, SemanticConfig{Model: "gpt-4o-mini"}, nil)

	out, err := s.Score(context.Background(), recs("r1", "r2", "r3", "r4"), testCorpus())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Contains(t, out, "r1")
	require.Contains(t, out, "r4")
}

func TestSemanticAcceptsCodeFencedJSON(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{responses: []string{"```json\n" + envelope(
		`{"id":"r1","score":0.6,"reason":"fenced"}`,
	) + "\n```"}}
	s := NewSemanticScorer(api, SemanticConfig{Model: "gpt-4o-mini"}, nil)

	out, err := s.Score(context.Background(), recs("r1"), testCorpus())
	require.NoError(t, err)
	require.Equal(t, 0.6, out["r1"].Score)
}

func TestSemanticCapsSuggestions(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{responses: []string{envelope(
		`{"id":"r1","score":0.9,"reason":"hot","suggestions":["one","two","three","four","five"]}`,
	)}}
	s := NewSemanticScorer(api, SemanticConfig{Model: "gpt-4o-mini"}, nil)

	out, err := s.Score(context.Background(), recs("r1"), testCorpus())
	require.NoError(t, err)
	require.Len(t, out["r1"].Suggestions, maxSuggestions)
}

func TestSemanticChunksLargeBatches(t *testing.T) {
	t.Parallel()

	ids := make([]string, 0, maxBatchRecords+5)
	var entries []string
	for i := 0; i < maxBatchRecords+5; i++ {
		id := string(rune('a' + i))
		ids = append(ids, id)
		entries = append(entries, `{"id":"`+id+`","score":0.5,"reason":"ok"}`)
	}
	api := &scriptedAPI{responses: []string{
		envelope(entries[:maxBatchRecords]...),
		envelope(entries[maxBatchRecords:]...),
	}}
	s := NewSemanticScorer(api, SemanticConfig{Model: "gpt-4o-mini"}, nil)

	out, err := s.Score(context.Background(), recs(ids...), testCorpus())
	require.NoError(t, err)
	require.Len(t, out, maxBatchRecords+5)
	require.Equal(t, 2, api.calls)
}

func TestSemanticPromptCapsStyleExamples(t *testing.T) {
	t.Parallel()

	examples := make([]string, maxStyleExamples+6)
	for i := range examples {
		examples[i] = "example text"
	}
	api := &scriptedAPI{responses: []string{envelope(`{"id":"r1","score":0.5,"reason":"ok"}`)}}
	s := NewSemanticScorer(api, SemanticConfig{Model: "gpt-4o-mini", StyleExamples: examples}, nil)

	_, err := s.Score(context.Background(), recs("r1"), testCorpus())
	require.NoError(t, err)

	var userPrompt string
	for _, p := range api.prompts {
		if strings.Contains(p, "Posts to rate:") {
			userPrompt = p
		}
	}
	require.NotEmpty(t, userPrompt)
	require.Equal(t, maxStyleExamples, strings.Count(userPrompt, "example text"))
}

func TestSemanticBadEnvelopeFailsChunk(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{responses: []string{"I could not produce JSON, sorry."}}
	s := NewSemanticScorer(api, SemanticConfig{Model: "gpt-4o-mini"}, nil)

	_, err := s.Score(context.Background(), recs("r1"), testCorpus())
	require.Error(t, err)
}
