package domain

import "fmt"

// ExtractionError marks a candidate node the adapter could not turn into a
// record. It is absorbed at the coordinator boundary: logged, never fatal.
type ExtractionError struct {
	SourceID string
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.SourceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.SourceID, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// FeedFetchError is a network-level failure retrieving the reference feed.
type FeedFetchError struct {
	URL string
	Err error
}

func (e *FeedFetchError) Error() string {
	return fmt.Sprintf("fetch feed %s: %v", e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// FeedParseError is a malformed-document failure, distinct from a network
// failure so callers can report "the feed is broken" vs "the feed is down".
type FeedParseError struct {
	URL string
	Err error
}

func (e *FeedParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.URL, e.Err)
}

func (e *FeedParseError) Unwrap() error { return e.Err }

// AuthError is a 401/403 from the external API. Never retried; the caller
// must prompt re-authentication.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("api authentication failed (status %d)", e.Status)
}

// RateLimitError is surfaced only after the retry budget is exhausted on
// consecutive 429 responses.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// InsufficientCreditsError signals account balance exhaustion. Never
// retried; the token amounts let a UI render an actionable message.
type InsufficientCreditsError struct {
	RequestedTokens int64
	AvailableTokens int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: requested %d tokens, %d available",
		e.RequestedTokens, e.AvailableTokens)
}

// MatchParseError marks one unparseable entry of a semantic batch response.
// Isolated per record; it never fails the batch.
type MatchParseError struct {
	RecordID string
	Err      error
}

func (e *MatchParseError) Error() string {
	return fmt.Sprintf("parse match result for %s: %v", e.RecordID, e.Err)
}

func (e *MatchParseError) Unwrap() error { return e.Err }
