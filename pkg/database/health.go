package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// HealthStatus describes database reachability for the health endpoint.
type HealthStatus struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency_ms"`
	OpenConns int           `json:"open_conns"`
	Error     string        `json:"error,omitempty"`
}

// Health pings the database and reports pool statistics.
func Health(ctx context.Context, db *sqlx.DB) HealthStatus {
	start := time.Now()
	err := db.PingContext(ctx)
	status := HealthStatus{
		Reachable: err == nil,
		Latency:   time.Since(start),
		OpenConns: db.Stats().OpenConnections,
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
