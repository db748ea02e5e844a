package api

import (
	"github.com/mediavault/mediavault/pkg/database"
	"github.com/mediavault/mediavault/pkg/models"
	"github.com/mediavault/mediavault/pkg/queue"
)

// CancelResponse is returned by POST /api/v1/jobs/:id/cancel.
type CancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// CreditsResponse is returned by GET /api/v1/credits.
type CreditsResponse struct {
	Balance      int                        `json:"balance"`
	Subscription *models.Subscription       `json:"subscription"`
	Transactions []models.CreditTransaction `json:"transactions"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status     string                `json:"status"`
	Database   database.HealthStatus `json:"database"`
	WorkerPool *queue.PoolHealth     `json:"worker_pool,omitempty"`
}
