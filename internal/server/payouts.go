package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
)

type buildPayoutRequest struct {
	CreatorID string `json:"creator_id"`
	Currency  string `json:"currency"`
	AsOf      string `json:"as_of"`
}

type finalizePayoutRequest struct {
	ExternalRef string `json:"external_ref"`
}

type failPayoutRequest struct {
	Reason string `json:"reason"`
}

type listPayoutsQuery struct {
	pagination.Pagination
	CreatorID string `form:"creator_id"`
	Status    string `form:"status"`
}

func (s *Server) BuildPayoutBatch(c *gin.Context) {
	var req buildPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	asOf := s.clock.Now()
	if parsed, err := parseTimeField("as_of", req.AsOf, rangeEnd); err != nil {
		AbortWithError(c, err)
		return
	} else if parsed != nil {
		asOf = *parsed
	}

	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = s.cfg.Payout.DefaultCurrency
	}

	result, err := s.payoutSvc.BuildBatch(c.Request.Context(), payoutdomain.BuildRequest{
		CreatorID: strings.TrimSpace(req.CreatorID),
		Currency:  currency,
		AsOf:      asOf,
		ActorID:   actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) ListPayoutBatches(c *gin.Context) {
	var query listPayoutsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.payoutSvc.List(c.Request.Context(), payoutdomain.ListRequest{
		Pagination: query.Pagination,
		CreatorID:  strings.TrimSpace(query.CreatorID),
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPayoutBatch(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	batch, err := s.payoutSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	items, err := s.payoutSvc.Items(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "items": items})
}

func (s *Server) GetPayoutStatement(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statement, err := s.payoutSvc.Statement(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", statement, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="payout-%s.pdf"`, id.String()),
	})
}

func (s *Server) MarkPayoutProcessing(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req finalizePayoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	batch, err := s.payoutSvc.MarkProcessing(c.Request.Context(), payoutdomain.MarkProcessingRequest{
		BatchID:     id,
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		ActorID:     actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

func (s *Server) MarkPayoutPaid(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req finalizePayoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	batch, err := s.payoutSvc.MarkPaid(c.Request.Context(), payoutdomain.MarkPaidRequest{
		BatchID:     id,
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		ActorID:     actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

// MarkPayoutFailed releases every held item back to available.
func (s *Server) MarkPayoutFailed(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req failPayoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	batch, err := s.payoutSvc.MarkFailed(c.Request.Context(), payoutdomain.MarkFailedRequest{
		BatchID: id,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

func (s *Server) RetryPayoutBatch(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.payoutSvc.Retry(c.Request.Context(), payoutdomain.RetryRequest{
		BatchID: id,
		ActorID: actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return invalidRequestError()
	}
	return nil
}
