package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		query  string
		errMsg string
	}{
		{name: "missing q", query: "", errMsg: "q is required"},
		{name: "n not a number", query: "q=pasta&n=many", errMsg: "n must be"},
		{name: "n zero", query: "q=pasta&n=0", errMsg: "n must be"},
		{name: "n over cap", query: "q=pasta&n=1000", errMsg: "n must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := testContext(http.MethodGet, "/api/v1/search?"+tt.query, "")
			s.searchHandler(c)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.errMsg)
		})
	}
}

func TestTopupHandler_Validation(t *testing.T) {
	s := &Server{}

	t.Run("negative amount", func(t *testing.T) {
		c, rec := testContext(http.MethodPost, "/api/v1/credits/topup", `{"amount": -5}`)
		s.topupHandler(c)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "amount must be positive")
	})

	t.Run("missing amount", func(t *testing.T) {
		c, rec := testContext(http.MethodPost, "/api/v1/credits/topup", `{"reference": "order-1"}`)
		s.topupHandler(c)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
