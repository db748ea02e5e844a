package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/metrics"
	"github.com/mediavault/mediavault/pkg/models"
	"github.com/mediavault/mediavault/pkg/services"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// JobRegistry is the subset of WorkerPool used by Worker for cancel
// registration.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id       string
	podID    string
	jobs     *services.JobService
	config   *config.QueueConfig
	executor JobExecutor
	registry JobRegistry
	metrics  *metrics.Metrics
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker. metrics may be nil.
func NewWorker(id, podID string, jobs *services.JobService, cfg *config.QueueConfig, executor JobExecutor, registry JobRegistry, m *metrics.Metrics) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		jobs:         jobs,
		config:       cfg,
		executor:     executor,
		registry:     registry,
		metrics:      m,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a job, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Best-effort global capacity check; racy with concurrent workers but
	// bounded by WorkerCount and mitigated by poll jitter.
	running, err := w.jobs.CountRunning(ctx)
	if err != nil {
		return fmt.Errorf("checking running jobs: %w", err)
	}
	if running >= w.config.MaxConcurrentJobs {
		return ErrAtCapacity
	}

	job, err := w.jobs.ClaimNext(ctx, w.podID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return ErrNoJobsAvailable
		}
		return err
	}

	w.RunJob(ctx, job)
	return nil
}

// RunJob processes one already-claimed job: cancel registration,
// heartbeat, execution, and the terminal write. Also the entry point for
// the inline dispatcher.
func (w *Worker) RunJob(ctx context.Context, job *models.Job) {
	log := slog.With("job_id", job.ID, "worker_id", w.id)
	log.Info("Job claimed", "source_type", job.SourceType, "mode", job.Mode)

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	start := time.Now()

	jobCtx, cancelJob := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancelJob()

	if w.registry != nil {
		w.registry.RegisterJob(job.ID, cancelJob)
		defer w.registry.UnregisterJob(job.ID)
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.ID)

	result := w.executor.Execute(jobCtx, job)

	// Synthesize a safe result if the executor returned nil or left the
	// status open after its context ended.
	if result == nil || result.Status == "" {
		switch {
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			result = &ExecutionResult{
				Status: models.JobStatusFailed,
				Error:  fmt.Errorf("job timed out after %v", w.config.JobTimeout),
			}
		case errors.Is(jobCtx.Err(), context.Canceled):
			result = &ExecutionResult{
				Status: models.JobStatusCancelled,
				Error:  context.Canceled,
			}
		default:
			result = &ExecutionResult{
				Status: models.JobStatusFailed,
				Error:  fmt.Errorf("executor returned no result"),
			}
		}
	}

	cancelHeartbeat()

	// Terminal write uses a background context; the job ctx may be dead.
	w.writeTerminalStatus(job, result)

	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(string(result.Status)).Inc()
		w.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("Job processing complete", "status", result.Status, "elapsed", time.Since(start))
}

func (w *Worker) writeTerminalStatus(job *models.Job, result *ExecutionResult) {
	ctx := context.Background()
	log := slog.With("job_id", job.ID, "worker_id", w.id)

	switch result.Status {
	case models.JobStatusCompleted:
		if err := w.jobs.Complete(ctx, job.ID, result.Result); err != nil {
			if errors.Is(err, services.ErrJobTerminal) {
				// Cancelled while we were finishing; the result is discarded.
				log.Info("Job reached terminal state before completion write; result discarded")
				return
			}
			log.Error("Failed to write job completion", "error", err)
		}
	case models.JobStatusCancelled:
		// The cancel endpoint already wrote the terminal state.
	default:
		errMsg := "job failed"
		if result.Error != nil {
			errMsg = result.Error.Error()
		}
		if err := w.jobs.Fail(ctx, job.ID, errMsg); err != nil {
			log.Error("Failed to write job failure", "error", err)
		}
	}
}

// runHeartbeat periodically refreshes the job heartbeat for orphan
// detection.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.Heartbeat(ctx, jobID); err != nil {
				slog.Warn("Heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
