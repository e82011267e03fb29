package models

// ExtractionResult is the structured output of the screenshot analysis call:
// a provenance label, one main task, and zero or more subtasks.
type ExtractionResult struct {
	Source   string   `json:"source"`
	MainTask string   `json:"mainTask"`
	Subtasks []string `json:"subtasks"`
}

// ExtractionStatus represents the lifecycle of an extraction job.
type ExtractionStatus string

const (
	ExtractionStatusPending ExtractionStatus = "pending"
	ExtractionStatusDone    ExtractionStatus = "done"
	ExtractionStatusFailed  ExtractionStatus = "failed"
)

// Extraction is the status record for one screenshot-extraction job, kept in
// the key-value store so clients can poll for the outcome.
type Extraction struct {
	ID        string           `json:"id"`
	SpaceID   string           `json:"spaceId"`
	Status    ExtractionStatus `json:"status"`
	TaskIDs   []string         `json:"taskIds,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt int64            `json:"createdAt"`
	UpdatedAt int64            `json:"updatedAt"`

	UserID string `json:"-"`
}
