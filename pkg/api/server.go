// Package api exposes the HTTP surface: job enqueueing and lifecycle,
// content retrieval and semantic search, collections, credits, and
// operational endpoints. All tenant-scoped routes read the tenant from the
// X-Tenant-ID header; error mapping from the service layer is centralized
// in errors.go.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediavault/mediavault/pkg/blob"
	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/metrics"
	"github.com/mediavault/mediavault/pkg/queue"
	"github.com/mediavault/mediavault/pkg/services"
)

// JobCanceller cancels the in-process execution of a job, if this pod is
// running it. Both the worker pool and the inline dispatcher satisfy it.
type JobCanceller interface {
	CancelJob(jobID string) bool
}

// Server holds the handler dependencies.
type Server struct {
	cfg         *config.Config
	db          *sqlx.DB
	jobs        *services.JobService
	credits     *services.CreditService
	memory      *services.MemoryService
	collections *services.CollectionService
	dispatcher  queue.Dispatcher
	canceller   JobCanceller
	pool        *queue.WorkerPool // nil in inline dispatch mode
	blobs       blob.Store
	metrics     *metrics.Metrics
}

// NewServer creates the API server. pool may be nil when jobs run inline.
func NewServer(
	cfg *config.Config,
	db *sqlx.DB,
	jobs *services.JobService,
	credits *services.CreditService,
	memory *services.MemoryService,
	collections *services.CollectionService,
	dispatcher queue.Dispatcher,
	canceller JobCanceller,
	pool *queue.WorkerPool,
	blobs blob.Store,
	m *metrics.Metrics,
) *Server {
	return &Server{
		cfg:         cfg,
		db:          db,
		jobs:        jobs,
		credits:     credits,
		memory:      memory,
		collections: collections,
		dispatcher:  dispatcher,
		canceller:   canceller,
		pool:        pool,
		blobs:       blobs,
		metrics:     m,
	}
}

// Engine builds the gin engine with middleware and all routes registered.
func (s *Server) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), corsMiddleware(s.cfg.CORSOrigins))

	engine.GET("/healthz", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	v1 := engine.Group("/api/v1", tenantMiddleware())

	v1.POST("/jobs", s.createJobHandler)
	v1.GET("/jobs", s.listJobsHandler)
	v1.GET("/jobs/:id", s.getJobHandler)
	v1.POST("/jobs/:id/cancel", s.cancelJobHandler)
	v1.DELETE("/jobs/:id", s.deleteJobHandler)

	v1.GET("/contents", s.listContentsHandler)
	v1.GET("/contents/:id", s.getContentHandler)
	v1.DELETE("/contents/:id", s.deleteContentHandler)
	v1.GET("/search", s.searchHandler)

	v1.POST("/collections", s.createCollectionHandler)
	v1.GET("/collections", s.listCollectionsHandler)
	v1.GET("/collections/:id", s.getCollectionHandler)
	v1.DELETE("/collections/:id", s.deleteCollectionHandler)
	v1.POST("/collections/:id/contents", s.addCollectionContentHandler)
	v1.DELETE("/collections/:id/contents/:contentID", s.removeCollectionContentHandler)

	v1.GET("/credits", s.getCreditsHandler)
	v1.POST("/credits/topup", s.topupHandler)

	return engine
}

// HTTPServer wraps the engine in an http.Server listening on the
// configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    ":" + s.cfg.HTTPPort,
		Handler: s.Engine(),
	}
}
