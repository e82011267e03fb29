package queue

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeScreenshotExtraction is a job for extracting tasks from a screenshot
	JobTypeScreenshotExtraction JobType = "screenshot_extraction"
)

// Job represents a job in the queue
type Job struct {
	ID           uuid.UUID  `json:"id"`
	Type         JobType    `json:"type"`
	UserID       string     `json:"user_id"`
	SpaceID      string     `json:"space_id,omitempty"`
	ExtractionID string     `json:"extraction_id"`
	ImageBase64  string     `json:"image_base64,omitempty"`
	MediaType    string     `json:"media_type,omitempty"`
	CustomPrompt string     `json:"custom_prompt,omitempty"`
	NotBefore    *time.Time `json:"not_before,omitempty"` // Earliest time to process job (nil = immediate)
	NotAfter     *time.Time `json:"not_after,omitempty"`  // Latest time to process job (nil = no expiration)
	CreatedAt    time.Time  `json:"created_at"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
}

// NewExtractionJob creates a job for one screenshot-extraction request
func NewExtractionJob(userID, spaceID, extractionID, imageBase64, mediaType, customPrompt string) *Job {
	return &Job{
		ID:           uuid.New(),
		Type:         JobTypeScreenshotExtraction,
		UserID:       userID,
		SpaceID:      spaceID,
		ExtractionID: extractionID,
		ImageBase64:  imageBase64,
		MediaType:    mediaType,
		CustomPrompt: customPrompt,
		CreatedAt:    time.Now(),
		RetryCount:   0,
		MaxRetries:   3,
	}
}

// maxRequeueHold bounds how long a consumer sits on a not-yet-due delivery
// before requeueing it, so shutdown stays responsive.
const maxRequeueHold = 5 * time.Second

// RequeueDelay returns how long a consumer should hold a delivery whose job
// is not yet due before requeueing it. Requeueing immediately makes the
// broker redeliver the same delayed job in a tight loop.
func (j *Job) RequeueDelay(now time.Time) time.Duration {
	if j.NotBefore == nil || !now.Before(*j.NotBefore) {
		return 0
	}
	if wait := j.NotBefore.Sub(now); wait < maxRequeueHold {
		return wait
	}
	return maxRequeueHold
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	now := time.Now()

	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}
	if j.NotAfter != nil && now.After(*j.NotAfter) {
		return false
	}
	return true
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	if j.NotAfter == nil {
		return false
	}
	return time.Now().After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}
