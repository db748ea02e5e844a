package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/models"
	"github.com/mediavault/mediavault/pkg/services"
	"github.com/mediavault/mediavault/test/util"
)

func newJobService(t *testing.T) (*services.JobService, *services.CreditService, *sqlx.DB) {
	db := util.SetupTestDatabase(t)
	credits := services.NewCreditService(db, config.DefaultTierTable())
	return services.NewJobService(db, credits), credits, db
}

func createTestJob(t *testing.T, jobs *services.JobService) *models.Job {
	job, err := jobs.Create(context.Background(), "tenant-1",
		"https://youtube.com/watch?v=abc123", models.SourceTypeURL, "general",
		models.JobSettings{AnalyzeFrames: true})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, job.Status)
	return job
}

func TestJobLifecycle(t *testing.T) {
	jobs, _, _ := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)

	claimed, err := jobs.ClaimNext(ctx, "pod-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, models.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	// The queue is now empty.
	_, err = jobs.ClaimNext(ctx, "pod-1")
	assert.ErrorIs(t, err, services.ErrNotFound)

	require.NoError(t, jobs.Progress(ctx, job.ID, 40, "transcribing"))
	require.NoError(t, jobs.Complete(ctx, job.ID, &models.Content{ID: "content-1", Title: "A talk"}))

	got, err := jobs.Get(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "A talk", got.Title)
	require.NotNil(t, got.Result)
	assert.Equal(t, "content-1", got.Result.ID)
	require.NotNil(t, got.CompletedAt)
}

func TestProgress_TerminalProtectionAndMonotonicity(t *testing.T) {
	jobs, _, _ := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)
	_, err := jobs.Claim(ctx, job.ID, "pod-1")
	require.NoError(t, err)

	require.NoError(t, jobs.Progress(ctx, job.ID, 60, "extracting"))
	// A late write from a slower stage cannot move progress backwards.
	require.NoError(t, jobs.Progress(ctx, job.ID, 30, "captioning"))

	got, err := jobs.Get(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)

	require.NoError(t, jobs.Fail(ctx, job.ID, "provider unavailable"))

	// Progress against a terminal job writes nothing.
	require.NoError(t, jobs.Progress(ctx, job.ID, 95, "late update"))
	got, err = jobs.Get(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 60, got.Progress)
	assert.Equal(t, "provider unavailable", got.Error)
}

func TestComplete_AfterCancelIsDiscarded(t *testing.T) {
	jobs, _, _ := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)
	_, err := jobs.Claim(ctx, job.ID, "pod-1")
	require.NoError(t, err)

	cancelled, err := jobs.Cancel(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// The worker finishing late must not resurrect the job.
	err = jobs.Complete(ctx, job.ID, &models.Content{ID: "content-1", Title: "A talk"})
	assert.ErrorIs(t, err, services.ErrJobTerminal)

	got, err := jobs.Get(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Nil(t, got.Result)
}

func TestCancel_AlreadyTerminal(t *testing.T) {
	jobs, _, _ := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)
	_, err := jobs.Claim(ctx, job.ID, "pod-1")
	require.NoError(t, err)
	require.NoError(t, jobs.Fail(ctx, job.ID, "boom"))

	cancelled, err := jobs.Cancel(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	got, err := jobs.Get(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestFail_RefundsDeductedCredits(t *testing.T) {
	jobs, credits, _ := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)
	_, err := jobs.Claim(ctx, job.ID, "pod-1")
	require.NoError(t, err)

	require.NoError(t, jobs.DeductForJob(ctx, job.ID, "tenant-1", 20, "video processing"))

	require.NoError(t, jobs.Fail(ctx, job.ID, "yt-dlp exited with error"))

	balance, err := credits.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 50, balance)

	// Failing again is a no-op, and so is its refund.
	require.NoError(t, jobs.Fail(ctx, job.ID, "duplicate failure"))
	balance, err = credits.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 50, balance)
}

func TestDeductForJob_AtomicSetOnce(t *testing.T) {
	jobs, credits, _ := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)
	require.NoError(t, jobs.DeductForJob(ctx, job.ID, "tenant-1", 15, "media ingestion"))

	balance, err := credits.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 35, balance)

	// A duplicate charge hits the set-once guard and rolls back wholesale:
	// no balance change, no second ledger row.
	assert.Error(t, jobs.DeductForJob(ctx, job.ID, "tenant-1", 15, "media ingestion"))

	balance, err = credits.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 35, balance)

	ledger, err := credits.Ledger(ctx, "tenant-1", 50)
	require.NoError(t, err)
	deducts := 0
	for _, tx := range ledger {
		if tx.Kind == models.TransactionDeduct {
			deducts++
		}
	}
	assert.Equal(t, 1, deducts)

	got, err := jobs.Get(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, got.CreditsDeducted)
}

func TestClaim_OnlyQueuedJobs(t *testing.T) {
	jobs, _, _ := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)

	claimed, err := jobs.Claim(ctx, job.ID, "pod-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, claimed.Status)

	// A second claim of the same job finds nothing queued.
	_, err = jobs.Claim(ctx, job.ID, "pod-2")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestDelete_RequiresTerminalState(t *testing.T) {
	jobs, _, _ := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)

	err := jobs.Delete(ctx, "tenant-1", job.ID)
	assert.ErrorIs(t, err, services.ErrJobNotTerminal)

	_, err = jobs.Claim(ctx, job.ID, "pod-1")
	require.NoError(t, err)
	require.NoError(t, jobs.Fail(ctx, job.ID, "boom"))

	require.NoError(t, jobs.Delete(ctx, "tenant-1", job.ID))
	_, err = jobs.Get(ctx, "tenant-1", job.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestList_FiltersByStatus(t *testing.T) {
	jobs, _, _ := newJobService(t)
	ctx := context.Background()

	first := createTestJob(t, jobs)
	createTestJob(t, jobs)

	_, err := jobs.Claim(ctx, first.ID, "pod-1")
	require.NoError(t, err)

	running, err := jobs.List(ctx, "tenant-1", 10, models.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, first.ID, running[0].ID)

	all, err := jobs.List(ctx, "tenant-1", 10, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Other tenants see nothing.
	other, err := jobs.List(ctx, "tenant-2", 10, "")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFindPodOrphans(t *testing.T) {
	jobs, _, db := newJobService(t)
	ctx := context.Background()

	job := createTestJob(t, jobs)
	_, err := jobs.Claim(ctx, job.ID, "pod-1")
	require.NoError(t, err)

	// Simulate a pod restart: the running row is still stamped pod-1.
	orphans, err := jobs.FindPodOrphans(ctx, "pod-1")
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, job.ID, orphans[0].ID)

	// Other pods' jobs are not touched.
	orphans, err = jobs.FindPodOrphans(ctx, "pod-2")
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// Stale heartbeats are picked up by the global scan.
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET last_heartbeat_at = now() - interval '10 minutes' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	stale, err := jobs.FindOrphans(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, job.ID, stale[0].ID)
}
