package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeAdminEmail      JobType = "admin_email"
	JobTypeArchiveResponse JobType = "archive_response"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// AdminEmailJobPayload is an operational email to staff. An empty recipient
// list means the configured admin addresses.
type AdminEmailJobPayload struct {
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// ToMap converts the payload to a map for storage
func (p AdminEmailJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"subject": p.Subject,
		"body":    p.Body,
	}
	if len(p.Recipients) > 0 {
		m["recipients"] = p.Recipients
	}
	return m
}

func AdminEmailJobPayloadFromMap(data map[string]interface{}) (*AdminEmailJobPayload, error) {
	var payload AdminEmailJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ArchiveResponseJobPayload carries a sealed callback payload to the S3
// archive. Ciphertext is base64 encoded in the stored job.
type ArchiveResponseJobPayload struct {
	ResponseID      uint   `json:"response_id"`
	TransactionUUID string `json:"transaction_uuid"`
	EncryptionKeyID int    `json:"encryption_key_id"`
	ObjectKey       string `json:"object_key"`
	Ciphertext      []byte `json:"ciphertext"`
}

// ToMap converts the payload to a map for storage
func (p ArchiveResponseJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"response_id":       p.ResponseID,
		"transaction_uuid":  p.TransactionUUID,
		"encryption_key_id": p.EncryptionKeyID,
		"object_key":        p.ObjectKey,
		"ciphertext":        p.Ciphertext,
	}
}

func ArchiveResponseJobPayloadFromMap(data map[string]interface{}) (*ArchiveResponseJobPayload, error) {
	var payload ArchiveResponseJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func decodePayload(data map[string]interface{}, into interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, into)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
