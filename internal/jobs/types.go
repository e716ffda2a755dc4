package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
)

// Queue names
const (
	QueueGTMSync = "gtm-sync"
	QueueAdsSync = "ads-sync"
)

// Sync actions
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Maximum time a job can be running before it is considered stale
const (
	JobStaleTimeout   = 3 * time.Minute
	DefaultMaxRetries = 5
)

// JobState is the externally visible state of a queued job
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Snapshot carries the remote identifiers of a tracking whose row is already deleted
type Snapshot struct {
	WorkspacePath         string `json:"workspace_path,omitempty"`
	GTMTriggerID          string `json:"gtm_trigger_id,omitempty"`
	GTMTagIDGA4           string `json:"gtm_tag_id_ga4,omitempty"`
	GTMTagIDAds           string `json:"gtm_tag_id_ads,omitempty"`
	AdsConversionActionID string `json:"ads_conversion_action_id,omitempty"`
	GA4EventName          string `json:"ga4_event_name,omitempty"`
}

// Payload is the body of a sync job
type Payload struct {
	TrackingID string    `json:"tracking_id"`
	CustomerID string    `json:"customer_id"`
	TenantID   string    `json:"tenant_id"`
	Action     string    `json:"action"`
	BatchID    string    `json:"batch_id,omitempty"`
	Snapshot   *Snapshot `json:"snapshot,omitempty"`
}

// JobHandle identifies an enqueued job
type JobHandle struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

// JobStatus is the pollable view of a job
type JobStatus struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Action      string     `json:"action"`
	State       JobState   `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	TrackingID  *string    `json:"tracking_id,omitempty"`
	BatchID     *string    `json:"batch_id,omitempty"`
	RunAt       time.Time  `json:"run_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job is a claimed job handed to a Handler
type Job struct {
	ID          string
	Queue       string
	Attempt     int
	MaxAttempts int
	Payload     Payload
}

// FinalAttempt reports whether a failure now exhausts the job's retries
func (j *Job) FinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

func stateOf(job *db.SyncJob, now time.Time) JobState {
	switch job.Status {
	case db.JobRunning:
		return StateActive
	case db.JobCompleted:
		return StateCompleted
	case db.JobFailed:
		return StateFailed
	}
	if job.RunAt.After(now) {
		return StateDelayed
	}
	return StateWaiting
}

func decodeJob(row *db.SyncJob) (*Job, error) {
	job := &Job{
		ID:          row.ID,
		Queue:       row.Queue,
		Attempt:     row.Attempts,
		MaxAttempts: row.MaxAttempts,
	}
	decodeErr := json.Unmarshal(row.Payload, &job.Payload)
	if job.Payload.TrackingID == "" && row.TrackingID != nil {
		job.Payload.TrackingID = *row.TrackingID
	}
	if job.Payload.TenantID == "" {
		job.Payload.TenantID = row.TenantID
	}
	if job.Payload.CustomerID == "" {
		job.Payload.CustomerID = row.CustomerID
	}
	if job.Payload.Action == "" {
		job.Payload.Action = row.Action
	}
	if job.Payload.BatchID == "" && row.BatchID != nil {
		job.Payload.BatchID = *row.BatchID
	}
	if decodeErr != nil {
		return job, Permanent(decodeErr)
	}
	return job, nil
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker pool fails the job without further retries
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
