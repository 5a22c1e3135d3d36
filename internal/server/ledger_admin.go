package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RebuildBalances replays the event log and overwrites every materialized
// balance with the replayed values.
func (s *Server) RebuildBalances(c *gin.Context) {
	result, err := s.ledgerSvc.Rebuild(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ReconcileBalances compares without writing. Drifts raise integrity alerts.
func (s *Server) ReconcileBalances(c *gin.Context) {
	result, err := s.ledgerSvc.Reconcile(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
