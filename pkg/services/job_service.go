package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mediavault/mediavault/pkg/models"
)

// jobRow is the scan target for the jobs table; settings and result are
// stored as JSONB.
type jobRow struct {
	ID              string     `db:"id"`
	TenantID        string     `db:"tenant_id"`
	Source          string     `db:"source"`
	SourceType      string     `db:"source_type"`
	Mode            string     `db:"mode"`
	Settings        []byte     `db:"settings"`
	Status          string     `db:"status"`
	Progress        int        `db:"progress"`
	StatusText      string     `db:"status_text"`
	Title           string     `db:"title"`
	Error           string     `db:"error"`
	CreditsDeducted int        `db:"credits_deducted"`
	PodID           string     `db:"pod_id"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at"`
	CreatedAt       time.Time  `db:"created_at"`
	StartedAt       *time.Time `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	Result          []byte     `db:"result"`
}

const jobColumns = `id, tenant_id, source, source_type, mode, settings, status, progress,
	status_text, title, error, credits_deducted, pod_id, last_heartbeat_at,
	created_at, started_at, completed_at, result`

func (r *jobRow) toModel() (*models.Job, error) {
	job := &models.Job{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Source:          r.Source,
		SourceType:      models.SourceType(r.SourceType),
		Mode:            r.Mode,
		Status:          models.JobStatus(r.Status),
		Progress:        r.Progress,
		StatusText:      r.StatusText,
		Title:           r.Title,
		Error:           r.Error,
		CreditsDeducted: r.CreditsDeducted,
		PodID:           r.PodID,
		LastHeartbeatAt: r.LastHeartbeatAt,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
	if len(r.Settings) > 0 {
		if err := json.Unmarshal(r.Settings, &job.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode job settings: %w", err)
		}
	}
	if len(r.Result) > 0 {
		job.Result = &models.Content{}
		if err := json.Unmarshal(r.Result, job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
	}
	return job, nil
}

// JobService manages the ingestion job lifecycle: creation, claiming,
// progress, terminal transitions, and the refund-on-failure policy.
type JobService struct {
	db      *sqlx.DB
	credits *CreditService
}

// NewJobService creates a new JobService. The credit service is used to
// issue refunds inside the same transaction as a failure write.
func NewJobService(db *sqlx.DB, credits *CreditService) *JobService {
	return &JobService{db: db, credits: credits}
}

// Create inserts a queued job row and returns it. The row is the durable
// handle; worker pickup happens through polling, so no separate queue
// entry is needed.
func (s *JobService) Create(ctx context.Context, tenantID, source string, sourceType models.SourceType, mode string, settings models.JobSettings) (*models.Job, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if source == "" {
		return nil, NewValidationError("source", "required")
	}
	if mode == "" {
		mode = "general"
	}

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to ensure tenant: %w", err)
	}

	id := uuid.New().String()
	var row jobRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO jobs (id, tenant_id, source, source_type, mode, settings, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'queued')
		RETURNING `+jobColumns,
		id, tenantID, source, string(sourceType), mode, settingsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return row.toModel()
}

// Get returns one job scoped to its tenant.
func (s *JobService) Get(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`, jobID, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toModel()
}

// List returns lightweight job projections for the tenant, newest first.
// Heavy columns (result, settings) are never selected.
func (s *JobService) List(ctx context.Context, tenantID string, limit int, status models.JobStatus) ([]models.JobSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, status, progress, title, source, mode, error, started_at, completed_at
		FROM jobs WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	summaries := []models.JobSummary{}
	if err := s.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return summaries, nil
}

// Progress writes a progress update. Terminal-state protection: the write
// is conditioned on the job not being terminal, so a slow background
// stage can never resurrect a finished job. Progress is monotonic
// non-decreasing while running.
func (s *JobService) Progress(ctx context.Context, jobID string, pct int, statusText string) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(writeCtx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2), status_text = $3
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		jobID, pct, statusText)
	if err != nil {
		return fmt.Errorf("failed to write progress: %w", err)
	}
	return nil
}

// Status re-reads the job's current status. This is the cancellation
// checkpoint read used by the pipeline before its commit point.
func (s *JobService) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	return models.JobStatus(status), nil
}

// Complete marks the job completed and stores the result. Guarded: the
// job must currently be running; a cancelled job stays cancelled and the
// result is discarded.
func (s *JobService) Complete(ctx context.Context, jobID string, result *models.Content) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE jobs
		SET status = 'completed', progress = 100, status_text = '',
		    title = $2, result = $3, completed_at = now()
		WHERE id = $1 AND status = 'running'`,
		jobID, result.Title, resultJSON)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobTerminal
	}
	return nil
}

// Fail marks the job failed, and when credits were deducted, records the
// refund in the same transaction so no external reader can observe the
// failed job without its refund.
func (s *JobService) Fail(ctx context.Context, jobID string, errMsg string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tenantID string
	var creditsDeducted int
	row := tx.QueryRowxContext(writeCtx, `
		UPDATE jobs
		SET status = 'failed', error = $2, completed_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		RETURNING tenant_id, credits_deducted`,
		jobID, errMsg)
	if err := row.Scan(&tenantID, &creditsDeducted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already terminal; nothing to do.
			return nil
		}
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	if creditsDeducted > 0 {
		if err := s.credits.RefundInTx(writeCtx, tx, tenantID, creditsDeducted,
			"job failed", TxRef{JobID: jobID}); err != nil {
			return fmt.Errorf("failed to refund credits: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure: %w", err)
	}

	slog.Info("Job failed", "job_id", jobID, "refunded_credits", creditsDeducted, "error", errMsg)
	return nil
}

// Cancel atomically cancels the job unless it is already terminal.
// Returns false when the job was already terminal. Cancellation does not
// refund; the in-flight worker observes it at the next commit checkpoint
// and discards its output.
func (s *JobService) Cancel(ctx context.Context, tenantID, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		jobID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel result: %w", err)
	}
	return n > 0, nil
}

// Delete removes a job row. Only terminal jobs may be deleted.
func (s *JobService) Delete(ctx context.Context, tenantID, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id = $1 AND tenant_id = $2 AND status IN ('completed', 'failed', 'cancelled')`,
		jobID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1 AND tenant_id = $2)`, jobID, tenantID); err != nil {
		return fmt.Errorf("failed to check job existence: %w", err)
	}
	if exists {
		return ErrJobNotTerminal
	}
	return ErrNotFound
}

// DeductForJob charges the tenant and records the amount on the job row
// in one transaction, so a later Fail always sees the deduction it must
// refund. The set-once guard on credits_deducted doubles as the retry
// gate: a duplicate charge rolls back together with its ledger row.
func (s *JobService) DeductForJob(ctx context.Context, jobID, tenantID string, amount int, reason string) error {
	if _, err := s.credits.EnsureSubscription(ctx, tenantID); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET credits_deducted = $2 WHERE id = $1 AND credits_deducted = 0`,
		jobID, amount)
	if err != nil {
		return fmt.Errorf("failed to set credits_deducted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credits already deducted for job %s", jobID)
	}

	if err := s.credits.DeductInTx(ctx, tx, tenantID, amount, reason, TxRef{JobID: jobID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deduction: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest queued job using
// FOR UPDATE SKIP LOCKED, transitions it to running, and stamps the
// claiming pod. Returns ErrNotFound when the queue is empty.
func (s *JobService) ClaimNext(ctx context.Context, podID string) (*models.Job, error) {
	claimCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(claimCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	row := tx.QueryRowxContext(claimCtx, `
		SELECT id FROM jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query queued job: %w", err)
	}

	var claimed jobRow
	err = tx.GetContext(claimCtx, &claimed, `
		UPDATE jobs
		SET status = 'running', pod_id = $2, started_at = now(), last_heartbeat_at = now()
		WHERE id = $1
		RETURNING `+jobColumns,
		id, podID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed.toModel()
}

// Claim transitions one specific queued job to running. Used by the
// inline dispatcher, which knows which job it is about to run. Returns
// ErrNotFound when the job is gone or no longer queued.
func (s *JobService) Claim(ctx context.Context, jobID, podID string) (*models.Job, error) {
	var claimed jobRow
	err := s.db.GetContext(ctx, &claimed, `
		UPDATE jobs
		SET status = 'running', pod_id = $2, started_at = now(), last_heartbeat_at = now()
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns,
		jobID, podID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return claimed.toModel()
}

// Heartbeat refreshes last_heartbeat_at for orphan detection.
func (s *JobService) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_heartbeat_at = now() WHERE id = $1 AND status = 'running'`, jobID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// CountRunning returns the number of running jobs across all pods.
func (s *JobService) CountRunning(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM jobs WHERE status = 'running'`); err != nil {
		return 0, fmt.Errorf("failed to count running jobs: %w", err)
	}
	return count, nil
}

// CountQueued returns the current queue depth.
func (s *JobService) CountQueued(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM jobs WHERE status = 'queued'`); err != nil {
		return 0, fmt.Errorf("failed to count queued jobs: %w", err)
	}
	return count, nil
}

// FindOrphans returns running jobs whose heartbeat is older than the
// threshold.
func (s *JobService) FindOrphans(ctx context.Context, threshold time.Duration) ([]models.JobSummary, error) {
	cutoff := time.Now().Add(-threshold)
	orphans := []models.JobSummary{}
	err := s.db.SelectContext(ctx, &orphans, `
		SELECT id, status, progress, title, source, mode, error, started_at, completed_at
		FROM jobs
		WHERE status = 'running' AND last_heartbeat_at IS NOT NULL AND last_heartbeat_at < $1`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned jobs: %w", err)
	}
	return orphans, nil
}

// FindPodOrphans returns running jobs claimed by the given pod; used for
// startup cleanup after a crash.
func (s *JobService) FindPodOrphans(ctx context.Context, podID string) ([]models.JobSummary, error) {
	orphans := []models.JobSummary{}
	err := s.db.SelectContext(ctx, &orphans, `
		SELECT id, status, progress, title, source, mode, error, started_at, completed_at
		FROM jobs
		WHERE status = 'running' AND pod_id = $1`,
		podID)
	if err != nil {
		return nil, fmt.Errorf("failed to find pod orphans: %w", err)
	}
	return orphans, nil
}
