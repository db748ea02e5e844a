package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// createCollectionHandler handles POST /api/v1/collections.
func (s *Server) createCollectionHandler(c *gin.Context) {
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	collection, err := s.collections.Create(c.Request.Context(), tenantID(c), req.Name)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, collection)
}

// listCollectionsHandler handles GET /api/v1/collections.
func (s *Server) listCollectionsHandler(c *gin.Context) {
	collections, err := s.collections.List(c.Request.Context(), tenantID(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

// getCollectionHandler handles GET /api/v1/collections/:id, including the
// member content ids.
func (s *Server) getCollectionHandler(c *gin.Context) {
	tenant := tenantID(c)
	collectionID := c.Param("id")

	collection, err := s.collections.Get(c.Request.Context(), tenant, collectionID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	contentIDs, err := s.collections.ContentIDs(c.Request.Context(), tenant, collectionID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"collection":  collection,
		"content_ids": contentIDs,
	})
}

// deleteCollectionHandler handles DELETE /api/v1/collections/:id.
// Memberships cascade; contents themselves survive.
func (s *Server) deleteCollectionHandler(c *gin.Context) {
	if err := s.collections.Delete(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// addCollectionContentHandler handles POST /api/v1/collections/:id/contents.
func (s *Server) addCollectionContentHandler(c *gin.Context) {
	var req AddCollectionContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.collections.AddContent(c.Request.Context(), tenantID(c), c.Param("id"), req.ContentID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// removeCollectionContentHandler handles
// DELETE /api/v1/collections/:id/contents/:contentID.
func (s *Server) removeCollectionContentHandler(c *gin.Context) {
	err := s.collections.RemoveContent(c.Request.Context(), tenantID(c), c.Param("id"), c.Param("contentID"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
