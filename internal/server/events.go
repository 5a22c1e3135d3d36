package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ingressdomain "github.com/playgroundx/settlement/internal/ingress/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	obsmiddleware "github.com/playgroundx/settlement/internal/observability/logger"
	"github.com/playgroundx/settlement/pkg/db/pagination"
)

type listEventsQuery struct {
	pagination.Pagination
	CreatorID string `form:"creator_id"`
	FanID     string `form:"fan_id"`
	Type      string `form:"type"`
	Status    string `form:"status"`
	Currency  string `form:"currency"`
}

type prizePoolPreviewRequest struct {
	Pool       int64 `json:"pool"`
	Attendance int   `json:"attendance"`
}

// SubmitEvent records a monetization fact reported by a room or feature module.
// The source always comes from the authenticated key.
func (s *Server) SubmitEvent(c *gin.Context) {
	var req ingressdomain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	keySource := apiKeySourceFromContext(c.Request.Context())
	if claimed := strings.TrimSpace(req.Source); claimed != "" && claimed != keySource {
		AbortWithError(c, ErrForbidden)
		return
	}
	req.Source = keySource
	c.Set(obsmiddleware.ContextEventTypeKey, req.Type)
	c.Set(obsmiddleware.ContextSourceKey, keySource)

	result, err := s.ingressSvc.Submit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
		c.Set(obsmiddleware.ContextDuplicateKey, true)
	}
	c.JSON(status, result)
}

func (s *Server) GetEvent(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.ledgerSvc.GetEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": event})
}

func (s *Server) ListEvents(c *gin.Context) {
	var query listEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListEvents(c.Request.Context(), ledgerdomain.ListEventsRequest{
		Pagination: query.Pagination,
		CreatorID:  strings.TrimSpace(query.CreatorID),
		FanID:      strings.TrimSpace(query.FanID),
		Type:       strings.TrimSpace(query.Type),
		Status:     strings.TrimSpace(query.Status),
		Currency:   strings.TrimSpace(query.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PreviewPrizePool splits a competition pool without posting anything.
func (s *Server) PreviewPrizePool(c *gin.Context) {
	var req prizePoolPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.feeSvc.PrizePool(req.Pool, req.Attendance)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
