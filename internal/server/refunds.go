package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	refunddomain "github.com/playgroundx/settlement/internal/refund/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
)

type submitRefundRequest struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

type decideRefundRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

type listRefundRequestsQuery struct {
	pagination.Pagination
	Status  string `form:"status"`
	EventID string `form:"event_id"`
}

// SubmitRefundRequest lets a fan ask for a refund of one of their own
// payments. Events paid by someone else look like missing events.
func (s *Server) SubmitRefundRequest(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req submitRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	eventID, err := snowflake.ParseString(strings.TrimSpace(req.EventID))
	if err != nil || eventID == 0 {
		AbortWithError(c, newValidationError("event_id", "invalid_event_id", "invalid event_id"))
		return
	}

	ctx := c.Request.Context()
	event, err := s.ledgerSvc.GetEvent(ctx, eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if event.FanID == nil || *event.FanID != userID {
		AbortWithError(c, ErrNotFound)
		return
	}

	request, err := s.refundSvc.RequestRefund(ctx, refunddomain.CreateRequest{
		EventID:     eventID,
		Reason:      strings.TrimSpace(req.Reason),
		RequestedBy: userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": request})
}

func (s *Server) ListRefundRequests(c *gin.Context) {
	var query listRefundRequestsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.refundSvc.List(c.Request.Context(), refunddomain.ListRequest{
		Pagination: query.Pagination,
		Status:     strings.TrimSpace(query.Status),
		EventID:    strings.TrimSpace(query.EventID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetRefundRequest(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	request, err := s.refundSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": request})
}

// DecideRefundRequest approves or declines. Approval reverses the original
// event in the same transaction.
func (s *Server) DecideRefundRequest(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req decideRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.refundSvc.Decide(c.Request.Context(), refunddomain.DecideRequest{
		RequestID:  id,
		Decision:   refunddomain.Decision(strings.ToLower(strings.TrimSpace(req.Decision))),
		ReviewerID: actorID(c),
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
