package config

import "time"

// QueueConfig contains queue and worker pool configuration. These values
// control how jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and processes jobs.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the global limit of jobs being processed
	// across ALL replicas/pods. Enforced by database COUNT(*) check.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// PollInterval is the base interval for checking queued jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the wall-clock limit for one job. A job exceeding it
	// is marked failed by orphan recovery and refunded.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// HeartbeatInterval is how often a worker refreshes the job's
	// heartbeat column while processing.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// GracefulShutdownTimeout is the max time to wait for active jobs to
	// complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned jobs.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a job can go without a heartbeat
	// before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults. Ingest is
// minutes-scale, so the job timeout is generous.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:             2,
		MaxConcurrentJobs:       4,
		PollInterval:            2 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              45 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		GracefulShutdownTimeout: 45 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}

func (q *QueueConfig) applyEnvOverrides() {
	q.WorkerCount = getEnvInt("QUEUE_WORKER_COUNT", q.WorkerCount)
	q.MaxConcurrentJobs = getEnvInt("QUEUE_MAX_CONCURRENT_JOBS", q.MaxConcurrentJobs)
	q.PollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", q.PollInterval)
	q.PollIntervalJitter = getEnvDuration("QUEUE_POLL_JITTER", q.PollIntervalJitter)
	q.JobTimeout = getEnvDuration("QUEUE_JOB_TIMEOUT", q.JobTimeout)
	q.HeartbeatInterval = getEnvDuration("QUEUE_HEARTBEAT_INTERVAL", q.HeartbeatInterval)
	q.GracefulShutdownTimeout = getEnvDuration("QUEUE_SHUTDOWN_TIMEOUT", q.GracefulShutdownTimeout)
	q.OrphanDetectionInterval = getEnvDuration("QUEUE_ORPHAN_INTERVAL", q.OrphanDetectionInterval)
	q.OrphanThreshold = getEnvDuration("QUEUE_ORPHAN_THRESHOLD", q.OrphanThreshold)
}
