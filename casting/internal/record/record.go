// Package record holds the value types that flow through the ingestion
// pipeline: extracted casting-call records and raw chat messages.
package record

// Source types.
const (
	SourceWeb  = "web"
	SourceChat = "chat"
)

// Moderation states. StatusPending is the only state the pipeline writes;
// live and rejected are set by moderators and are final.
const (
	StatusPending  = "pending_review"
	StatusLive     = "live"
	StatusRejected = "rejected"
)

// ValidStatus reports whether s is a known moderation state.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusLive, StatusRejected:
		return true
	}
	return false
}

// Candidate is one casting-call record extracted from a page or a message.
// Missing fields are "" (never absent).
type Candidate struct {
	Title               string `json:"title"`
	Description         string `json:"description"`
	Organization        string `json:"organization"`
	Location            string `json:"location"`
	Compensation        string `json:"compensation"`
	Requirements        string `json:"requirements"`
	ApplicationDeadline string `json:"application_deadline"`
	ContactInfo         string `json:"contact_info"`

	SourceURL   string `json:"source_url,omitempty"`
	SourceGroup string `json:"source_group,omitempty"`
	SourceName  string `json:"source_name"`
	IngestedAt  int64  `json:"ingested_at"` // unix ms
}

// RawMessage is a chat message that survived filtering, waiting for
// classification.
type RawMessage struct {
	MessageID       string `json:"message_id"`
	Text            string `json:"text"`
	SourceGroupID   string `json:"source_group_id"`
	SourceName      string `json:"source_name"`
	OriginTimestamp int64  `json:"origin_timestamp"` // unix seconds
}
