package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/metrics"
	"github.com/mediavault/mediavault/pkg/models"
	"github.com/mediavault/mediavault/pkg/services"
)

// Dispatcher hands a freshly created job to the execution machinery.
// Callers cannot tell which implementation is behind it; visible job
// behavior is identical either way.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// QueueDispatcher is the durable path: the job row written at creation
// IS the enqueue, and pool workers pick it up by polling. Dispatch is a
// no-op kept for the seam.
type QueueDispatcher struct{}

// NewQueueDispatcher creates a QueueDispatcher.
func NewQueueDispatcher() *QueueDispatcher {
	return &QueueDispatcher{}
}

// Dispatch does nothing; workers poll the jobs table.
func (d *QueueDispatcher) Dispatch(_ context.Context, job *models.Job) error {
	slog.Debug("Job queued for worker pickup", "job_id", job.ID)
	return nil
}

// InlineDispatcher runs the job in a background goroutine of the
// enqueueing process. Single-node fallback for deployments without a
// worker fleet. Jobs still get the full claim/heartbeat/terminal
// lifecycle, and remain cancellable through the registry.
type InlineDispatcher struct {
	podID    string
	jobs     *services.JobService
	runner   *Worker
	registry *inlineRegistry
	wg       sync.WaitGroup
}

// inlineRegistry is a standalone cancel registry for inline jobs.
type inlineRegistry struct {
	mu         sync.RWMutex
	activeJobs map[string]context.CancelFunc
}

func (r *inlineRegistry) RegisterJob(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeJobs[jobID] = cancel
}

func (r *inlineRegistry) UnregisterJob(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activeJobs, jobID)
}

func (r *inlineRegistry) cancel(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cancel, ok := r.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// NewInlineDispatcher creates an InlineDispatcher. metrics may be nil.
func NewInlineDispatcher(podID string, jobs *services.JobService, cfg *config.QueueConfig, executor JobExecutor, m *metrics.Metrics) *InlineDispatcher {
	registry := &inlineRegistry{activeJobs: make(map[string]context.CancelFunc)}
	return &InlineDispatcher{
		podID:    podID,
		jobs:     jobs,
		runner:   NewWorker(podID+"-inline", podID, jobs, cfg, executor, registry, m),
		registry: registry,
	}
}

// Dispatch claims the job and runs it in a goroutine.
func (d *InlineDispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	claimed, err := d.jobs.Claim(ctx, job.ID, d.podID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			// Cancelled between creation and dispatch.
			return nil
		}
		return fmt.Errorf("failed to claim job for inline execution: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runner.RunJob(context.Background(), claimed)
	}()
	return nil
}

// CancelJob triggers context cancellation for an inline job.
func (d *InlineDispatcher) CancelJob(jobID string) bool {
	return d.registry.cancel(jobID)
}

// Wait blocks until all inline jobs have finished. Used during shutdown.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
