package api

import "github.com/mediavault/mediavault/pkg/models"

// CreateJobRequest is the JSON body for POST /api/v1/jobs. File uploads
// use multipart form data instead; see createJobHandler.
type CreateJobRequest struct {
	Source   string             `json:"source" binding:"required"`
	Mode     string             `json:"mode"`
	Settings models.JobSettings `json:"settings"`
}

// CreateCollectionRequest is the JSON body for POST /api/v1/collections.
type CreateCollectionRequest struct {
	Name string `json:"name" binding:"required"`
}

// AddCollectionContentRequest is the JSON body for
// POST /api/v1/collections/:id/contents.
type AddCollectionContentRequest struct {
	ContentID string `json:"content_id" binding:"required"`
}

// TopupRequest is the JSON body for POST /api/v1/credits/topup.
type TopupRequest struct {
	Amount    int    `json:"amount" binding:"required"`
	Reference string `json:"reference"`
}
