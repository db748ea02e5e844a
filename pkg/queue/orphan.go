package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mediavault/mediavault/pkg/services"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned jobs.
// All pods run this independently; recovery is idempotent because the
// failure write is guarded by terminal-state protection and the refund
// is recorded at most once per job.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds running jobs with stale heartbeats and
// fails them. Fail issues the credit refund in the same transaction.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	orphans, err := p.jobs.FindOrphans(ctx, p.config.OrphanThreshold)
	if err != nil {
		return fmt.Errorf("failed to query orphaned jobs: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("Detected orphaned jobs", "count", len(orphans))

	recovered := 0
	for _, orphan := range orphans {
		// Skip jobs this pod is actively processing; their heartbeat may
		// just be catching up after a stall.
		if p.isActive(orphan.ID) {
			continue
		}
		errMsg := fmt.Sprintf("orphaned: no heartbeat for at least %v", p.config.OrphanThreshold)
		if err := p.jobs.Fail(ctx, orphan.ID, errMsg); err != nil {
			slog.Error("Failed to recover orphaned job", "job_id", orphan.ID, "error", err)
			continue
		}
		slog.Warn("Orphaned job marked as failed", "job_id", orphan.ID)
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	return nil
}

// CleanupStartupOrphans performs a one-time cleanup of jobs owned by this
// pod that were running when the pod previously crashed. Called once
// during startup, before the worker pool begins processing. The failure
// write refunds the deducted credits.
func CleanupStartupOrphans(ctx context.Context, jobs *services.JobService, podID string) error {
	orphans, err := jobs.FindPodOrphans(ctx, podID)
	if err != nil {
		return fmt.Errorf("failed to query startup orphans: %w", err)
	}
	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("Found startup orphans from previous run",
		"pod_id", podID, "count", len(orphans))

	for _, orphan := range orphans {
		errMsg := fmt.Sprintf("orphaned: pod %s restarted while job was running", podID)
		if err := jobs.Fail(ctx, orphan.ID, errMsg); err != nil {
			slog.Error("Failed to mark startup orphan", "job_id", orphan.ID, "error", err)
			continue
		}
		slog.Info("Startup orphan recovered", "job_id", orphan.ID)
	}
	return nil
}
