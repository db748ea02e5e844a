// Package queue provides job queue management and processing
// infrastructure: workers, the worker pool, orphan recovery, and the
// dispatch seam between the API and the executor.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/mediavault/mediavault/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no queued jobs are waiting.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the global concurrent job limit is reached.
	ErrAtCapacity = errors.New("at capacity")
)

// JobExecutor runs one claimed job end to end.
//
// The executor owns the whole pipeline internally and writes progress
// progressively during execution. The worker only handles claiming,
// heartbeat, the terminal status write, and refund-triggering failure.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) *ExecutionResult
}

// ExecutionResult is just the terminal state; intermediate progress was
// already written by the executor during processing.
type ExecutionResult struct {
	Status models.JobStatus // completed, failed, cancelled
	Result *models.Content  // populated when completed
	Error  error            // populated when failed
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	RunningJobs      int            `json:"running_jobs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
