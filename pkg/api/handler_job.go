package api

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mediavault/mediavault/pkg/extract"
	"github.com/mediavault/mediavault/pkg/models"
)

// createJobHandler handles POST /api/v1/jobs. It accepts either a JSON
// body with a source URL or a multipart form with an uploaded file.
// Invalid input is rejected synchronously; everything else is deferred to
// the worker, which reports failures through the job row.
func (s *Server) createJobHandler(c *gin.Context) {
	if s.cfg.Providers.APIKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "no media provider credentials configured",
		})
		return
	}

	var (
		source     string
		sourceType models.SourceType
		mode       string
		settings   models.JobSettings
	)

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		path, err := s.saveUpload(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		source = path
		sourceType = models.SourceTypeUpload
		mode = c.PostForm("mode")
		settings = models.JobSettings{
			AnalyzeFrames: c.PostForm("analyze_frames") == "true",
			Language:      c.PostForm("language"),
			CollectionID:  c.PostForm("collection_id"),
		}
	} else {
		var req CreateJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		parsed, err := url.Parse(req.Source)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source must be a valid http(s) URL"})
			return
		}
		source = req.Source
		sourceType = models.SourceTypeURL
		mode = req.Mode
		settings = req.Settings
	}

	if !extract.ValidMode(mode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode: " + mode})
		return
	}

	tenant := tenantID(c)
	if settings.CollectionID != "" {
		if _, err := s.collections.Get(c.Request.Context(), tenant, settings.CollectionID); err != nil {
			mapServiceError(c, err)
			return
		}
	}

	job, err := s.jobs.Create(c.Request.Context(), tenant, source, sourceType, mode, settings)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if err := s.dispatcher.Dispatch(c.Request.Context(), job); err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// saveUpload stores the multipart file under DataDir/uploads and returns
// the saved path, which becomes the job source.
func (s *Server) saveUpload(c *gin.Context) (string, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.cfg.DataDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := uuid.New().String() + strings.ToLower(filepath.Ext(file.Filename))
	path := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		return "", err
	}
	return path, nil
}

// listJobsHandler handles GET /api/v1/jobs with optional status and limit
// query parameters.
func (s *Server) listJobsHandler(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	var status models.JobStatus
	if v := c.Query("status"); v != "" {
		switch models.JobStatus(v) {
		case models.JobStatusQueued, models.JobStatusRunning, models.JobStatusCompleted,
			models.JobStatusFailed, models.JobStatusCancelled:
			status = models.JobStatus(v)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + v})
			return
		}
	}

	jobs, err := s.jobs.List(c.Request.Context(), tenantID(c), limit, status)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// cancelJobHandler handles POST /api/v1/jobs/:id/cancel. The DB write
// stops queued jobs; the in-process cancel stops a running execution on
// this pod. Either succeeding counts as a cancellation.
func (s *Server) cancelJobHandler(c *gin.Context) {
	jobID := c.Param("id")

	cancelled, dbErr := s.jobs.Cancel(c.Request.Context(), tenantID(c), jobID)

	localCancelled := false
	if s.canceller != nil {
		localCancelled = s.canceller.CancelJob(jobID)
	}

	if dbErr != nil && !localCancelled {
		mapServiceError(c, dbErr)
		return
	}
	if !cancelled && !localCancelled {
		// Distinguish an already-terminal job from a missing one.
		job, err := s.jobs.Get(c.Request.Context(), tenantID(c), jobID)
		if err != nil {
			mapServiceError(c, err)
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error": "job is already " + string(job.Status),
		})
		return
	}

	c.JSON(http.StatusOK, &CancelResponse{
		JobID:     jobID,
		Cancelled: cancelled || localCancelled,
		Message:   "job cancellation requested",
	})
}

// deleteJobHandler handles DELETE /api/v1/jobs/:id. Only terminal jobs
// can be deleted.
func (s *Server) deleteJobHandler(c *gin.Context) {
	if err := s.jobs.Delete(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
