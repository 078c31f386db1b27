package models

import "time"

// Execution log kinds.
const (
	LogKindScrape = "scrape"
	LogKindPurge  = "purge"
)

// Execution log statuses.
const (
	LogStatusSuccess = "success"
	LogStatusError   = "error"
	LogStatusPartial = "partial"
)

// Source run statuses reported to callers.
const (
	RunStatusOK          = "ok"
	RunStatusError       = "error"
	RunStatusNotFound    = "not_found"
	RunStatusIgnored     = "ignored"
	RunStatusUnavailable = "unavailable"
)

// ExecutionLog is an append-only audit row for one source run or purge sweep.
type ExecutionLog struct {
	ID              string    `firestore:"-" db:"id" json:"id"`
	Kind            string    `firestore:"kind" db:"kind" json:"kind"`
	SourceName      string    `firestore:"sourceName" db:"source_name" json:"sourceName"`
	Timestamp       time.Time `firestore:"timestamp" db:"executed_at" json:"timestamp"`
	CountFound      int       `firestore:"countFound" db:"count_found" json:"countFound"`
	CountNew        int       `firestore:"countNew" db:"count_new" json:"countNew"`
	Status          string    `firestore:"status" db:"status" json:"status"`
	ErrorMessage    string    `firestore:"errorMessage,omitempty" db:"error_message" json:"errorMessage,omitempty"`
	DurationSeconds float64   `firestore:"durationSeconds" db:"duration_seconds" json:"durationSeconds"`
}

// RunCommit is everything one source run persists atomically.
type RunCommit struct {
	SourceID  string
	Decisions []OfferDecision
	At        time.Time
}

// RunSummary is the per-source result returned by the executor.
type RunSummary struct {
	SourceID        string  `json:"sourceId"`
	SourceName      string  `json:"sourceName,omitempty"`
	ScraperType     string  `json:"scraperType,omitempty"`
	Mode            string  `json:"mode,omitempty"`
	Status          string  `json:"status"`
	Message         string  `json:"message,omitempty"`
	Found           int     `json:"found"`
	New             int     `json:"new"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// BatchSummary aggregates one run over every active source.
type BatchSummary struct {
	Message string       `json:"message"`
	Total   int          `json:"total"`
	Results []RunSummary `json:"results"`
}

// JobStatus tracks the asynchronous run-all trigger. It lives in memory only.
type JobStatus struct {
	Running    bool          `json:"running"`
	StartedAt  *time.Time    `json:"startedAt,omitempty"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Result     *BatchSummary `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// PurgeResult reports one expiry sweep.
type PurgeResult struct {
	Disabled        int     `json:"disabled"`
	DurationSeconds float64 `json:"durationSeconds"`
}
