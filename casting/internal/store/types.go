package store

// Source is one registered ingestion source.
type Source struct {
	ID              string `json:"id"`
	SourceType      string `json:"source_type"`
	Identifier      string `json:"source_identifier"`
	Key             string `json:"source_key"` // normalized identifier, unique per type
	DisplayName     string `json:"display_name"`
	Active          bool   `json:"is_active"`
	LastProcessedAt *int64 `json:"last_processed_at,omitempty"` // unix ms
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// Candidate is a row of the moderation queue.
type Candidate struct {
	ID                  string `json:"id"`
	Fingerprint         string `json:"fingerprint"`
	Status              string `json:"status"`
	Title               string `json:"title"`
	Description         string `json:"description"`
	Organization        string `json:"organization"`
	Location            string `json:"location"`
	Compensation        string `json:"compensation"`
	Requirements        string `json:"requirements"`
	ApplicationDeadline string `json:"application_deadline"`
	ContactInfo         string `json:"contact_info"`
	SourceURL           string `json:"source_url"`
	SourceGroup         string `json:"source_group"`
	SourceName          string `json:"source_name"`
	IngestedAt          int64  `json:"ingested_at"`
	ReviewedAt          *int64 `json:"reviewed_at,omitempty"`
	ReviewNote          string `json:"review_note"`
}

// Cycle log statuses.
const (
	CycleOK            = "ok"
	CycleFetchError    = "fetch_error"
	CycleExtractError  = "extract_error"
	CycleChatError     = "chat_error"
	CycleDispatchError = "dispatch_error"
	CycleSkipped       = "skipped"
)

// CycleLogEntry is the outcome of processing one source in one run.
type CycleLogEntry struct {
	ID           string `json:"id"`
	RunID        string `json:"run_id"`
	SourceID     string `json:"source_id"`
	SourceType   string `json:"source_type"`
	Status       string `json:"status"`
	Records      int    `json:"records"`
	Duplicates   int    `json:"duplicates"`
	Messages     int    `json:"messages"`
	ErrorMessage string `json:"error_message"`
	DurationMs   int64  `json:"duration_ms"`
	StartedAt    int64  `json:"started_at"`
}
