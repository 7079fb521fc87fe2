package msgbus

import "ReplyScanner/internal/domain"

// MessageType discriminates envelope payloads.
type MessageType string

const (
	TypeSourceReady           MessageType = "SOURCE_READY"
	TypeRecordsExtracted      MessageType = "RECORDS_EXTRACTED"
	TypeLocateRecord          MessageType = "LOCATE_RECORD"
	TypeRunMatching           MessageType = "RUN_MATCHING"
	TypeFetchReferenceContent MessageType = "FETCH_REFERENCE_CONTENT"
)

// SourceReady announces that an adapter claimed the current page.
// Informational; the response carries no payload beyond acknowledgment.
type SourceReady struct {
	SourceID       string `json:"sourceId"`
	PageURL        string `json:"pageUrl"`
	IsRelevantPage bool   `json:"isRelevantPage"`
}

// RecordsExtracted delivers a batch of newly-seen records for storage.
type RecordsExtracted struct {
	Records  []domain.Record `json:"records"`
	SourceID string          `json:"sourceId"`
	PageURL  string          `json:"pageUrl"`
}

// RecordsStored is the RECORDS_EXTRACTED response.
type RecordsStored struct {
	StoredCount    int `json:"storedCount"`
	DuplicateCount int `json:"duplicateCount"`
	TotalStored    int `json:"totalStored"`
}

// LocateRecord asks the extraction side to scroll/focus a record.
type LocateRecord struct {
	ID string `json:"id"`
}

// LocateResult is the LOCATE_RECORD response.
type LocateResult struct {
	Found bool `json:"found"`
}

// RunMatching triggers a scoring pass over stored, unmatched records.
type RunMatching struct{}

// RunMatchingResult is the RUN_MATCHING response. On credit exhaustion
// Success is false, Error is "INSUFFICIENT_CREDITS", and the token amounts
// are filled for UI display.
type RunMatchingResult struct {
	Success         bool   `json:"success"`
	Matched         int    `json:"matched,omitempty"`
	Error           string `json:"error,omitempty"`
	RequestedTokens int64  `json:"requestedTokens,omitempty"`
	AvailableTokens int64  `json:"availableTokens,omitempty"`
}

// FetchReferenceContent validates a feed URL without touching the cache.
type FetchReferenceContent struct {
	URL string `json:"url"`
}

// FetchReferenceResult is the FETCH_REFERENCE_CONTENT response.
type FetchReferenceResult struct {
	FeedTitle string `json:"feedTitle"`
	ItemCount int    `json:"itemCount"`
}

// Ack is the empty acknowledgment payload.
type Ack struct{}
