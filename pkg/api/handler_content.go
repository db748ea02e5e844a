package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mediavault/mediavault/pkg/models"
)

// listContentsHandler handles GET /api/v1/contents, returning lightweight
// summaries newest first.
func (s *Server) listContentsHandler(c *gin.Context) {
	contents, err := s.memory.List(c.Request.Context(), tenantID(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}

	summaries := make([]models.ContentSummary, 0, len(contents))
	for _, content := range contents {
		summaries = append(summaries, models.ContentSummary{
			ID:          content.ID,
			Title:       content.Title,
			ContentType: content.ContentType,
			Mode:        content.Mode,
			SourceURL:   content.SourceURL,
			CreatedAt:   content.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"contents": summaries})
}

// getContentHandler handles GET /api/v1/contents/:id.
func (s *Server) getContentHandler(c *gin.Context) {
	content, err := s.memory.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, content)
}

// deleteContentHandler handles DELETE /api/v1/contents/:id. The database
// rows go first; stored thumbnails are removed best effort afterwards.
func (s *Server) deleteContentHandler(c *gin.Context) {
	tenant := tenantID(c)
	contentID := c.Param("id")

	if err := s.memory.Delete(c.Request.Context(), tenant, contentID); err != nil {
		mapServiceError(c, err)
		return
	}
	if err := s.blobs.Delete(tenant, contentID); err != nil {
		slog.Warn("Failed to remove content blobs", "content_id", contentID, "error", err)
	}
	c.Status(http.StatusNoContent)
}

// searchHandler handles GET /api/v1/search with q, n, content_type, and
// collection_id query parameters.
func (s *Server) searchHandler(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	n := 10
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 50 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be between 1 and 50"})
			return
		}
		n = parsed
	}

	results, err := s.memory.Search(c.Request.Context(), tenantID(c), query, n,
		c.Query("content_type"), c.Query("collection_id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
