package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mediavault/mediavault/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "not found", err: services.ErrNotFound, wantCode: http.StatusNotFound},
		{name: "wrapped not found", err: errors.Join(errors.New("ctx"), services.ErrNotFound), wantCode: http.StatusNotFound},
		{name: "already exists", err: services.ErrAlreadyExists, wantCode: http.StatusConflict},
		{name: "job terminal", err: services.ErrJobTerminal, wantCode: http.StatusConflict},
		{name: "job not terminal", err: services.ErrJobNotTerminal, wantCode: http.StatusConflict},
		{name: "insufficient credits", err: services.ErrInsufficientCredits, wantCode: http.StatusPaymentRequired},
		{name: "validation error", err: services.NewValidationError("name", "required"), wantCode: http.StatusBadRequest},
		{name: "unexpected error", err: errors.New("disk on fire"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := testContext(http.MethodGet, "/api/v1/jobs/x", "")
			mapServiceError(c, tt.err)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestMapServiceError_HidesInternalDetail(t *testing.T) {
	c, rec := testContext(http.MethodGet, "/api/v1/jobs/x", "")
	mapServiceError(c, errors.New("pq: connection refused at 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")
}
