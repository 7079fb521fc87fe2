package domain

import "time"

// Strategy names one of the interchangeable scoring algorithms.
type Strategy string

const (
	StrategyLexical  Strategy = "lexical"
	StrategySemantic Strategy = "semantic"
)

// Suggestion is a generated reply draft with the matched reference URL
// appended to its text.
type Suggestion struct {
	Text         string `json:"text"`
	ReferenceURL string `json:"referenceUrl"`
}

// Heat carries optional post-scoring enrichment estimating whether a record
// is worth replying to. Its absence never invalidates the match itself.
type Heat struct {
	Tone                string  `json:"tone"`
	EngagementPotential float64 `json:"engagementPotential"`
}

// MatchResult is the outcome of scoring one record against a corpus
// snapshot. At most one result exists per (record, strategy, corpus
// fetch time).
type MatchResult struct {
	RecordID    string         `json:"recordId"`
	Score       float64        `json:"score"`
	Reason      string         `json:"reason"`
	MatchedItem *ReferenceItem `json:"matchedReferenceItem,omitempty"`
	Suggestions []Suggestion   `json:"suggestions,omitempty"`
	Strategy    Strategy       `json:"strategy"`
	ComputedAt  time.Time      `json:"computedAt"`
	Heat        *Heat          `json:"heat,omitempty"`
}
