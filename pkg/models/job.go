// Package models defines the shared domain types used across services,
// queue workers, and the HTTP API.
package models

import "time"

// JobStatus represents the lifecycle state of an ingestion job.
type JobStatus string

// Job status constants. A job starts queued, transitions to running on
// worker pickup, and ends in exactly one terminal state.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is terminal. Terminal statuses are
// never overwritten, including by late progress writes from background
// stages.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// SourceType distinguishes remote URLs from locally uploaded files.
type SourceType string

// Source type constants.
const (
	SourceTypeURL    SourceType = "url"
	SourceTypeUpload SourceType = "upload"
)

// JobSettings carries the per-job processing options chosen at enqueue time.
type JobSettings struct {
	AnalyzeFrames bool   `json:"analyze_frames"`
	Language      string `json:"language,omitempty"`
	CollectionID  string `json:"collection_id,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// Job is one ingestion attempt. The job row is the durable handle for the
// queue: workers claim queued rows, and all progress and terminal state
// flows back into it.
type Job struct {
	ID              string      `db:"id" json:"id"`
	TenantID        string      `db:"tenant_id" json:"tenant_id"`
	Source          string      `db:"source" json:"source"`
	SourceType      SourceType  `db:"source_type" json:"source_type"`
	Mode            string      `db:"mode" json:"mode"`
	Settings        JobSettings `db:"-" json:"settings"`
	Status          JobStatus   `db:"status" json:"status"`
	Progress        int         `db:"progress" json:"progress"`
	StatusText      string      `db:"status_text" json:"status_text,omitempty"`
	Title           string      `db:"title" json:"title,omitempty"`
	Error           string      `db:"error" json:"error,omitempty"`
	CreditsDeducted int         `db:"credits_deducted" json:"credits_deducted"`
	PodID           string      `db:"pod_id" json:"-"`
	LastHeartbeatAt *time.Time  `db:"last_heartbeat_at" json:"-"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	StartedAt       *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	Result          *Content    `db:"-" json:"result,omitempty"`
}

// JobSummary is the lightweight projection returned by job listings.
// Heavy columns (result, settings) are deliberately absent.
type JobSummary struct {
	ID          string     `db:"id" json:"id"`
	Status      JobStatus  `db:"status" json:"status"`
	Progress    int        `db:"progress" json:"progress"`
	Title       string     `db:"title" json:"title,omitempty"`
	Source      string     `db:"source" json:"source"`
	Mode        string     `db:"mode" json:"mode"`
	Error       string     `db:"error" json:"error,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
