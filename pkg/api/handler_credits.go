package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getCreditsHandler handles GET /api/v1/credits: current balance, the
// subscription pools, and the recent ledger.
func (s *Server) getCreditsHandler(c *gin.Context) {
	tenant := tenantID(c)

	sub, err := s.credits.EnsureSubscription(c.Request.Context(), tenant)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	ledger, err := s.credits.Ledger(c.Request.Context(), tenant, 50)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, &CreditsResponse{
		Balance:      sub.MonthlyRemaining + sub.TopupBalance,
		Subscription: sub,
		Transactions: ledger,
	})
}

// topupHandler handles POST /api/v1/credits/topup. Payment processing
// happens upstream; this records the purchased credits.
func (s *Server) topupHandler(c *gin.Context) {
	var req TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	tenant := tenantID(c)
	if err := s.credits.Topup(c.Request.Context(), tenant, req.Amount, req.Reference); err != nil {
		mapServiceError(c, err)
		return
	}

	balance, err := s.credits.Balance(c.Request.Context(), tenant)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
