package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	bankreviewdomain "github.com/playgroundx/settlement/internal/bankreview/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
)

type submitBankReceiptRequest struct {
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	PaymentFor string `json:"payment_for"`
	ReceiptURL string `json:"receipt_url"`
}

type reviewBankSubmissionRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
	Email    string `json:"email"`
}

type listBankSubmissionsQuery struct {
	pagination.Pagination
	Status string `form:"status"`
	UserID string `form:"user_id"`
}

func (s *Server) SubmitBankReceipt(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req submitBankReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	submission, err := s.bankReviewSvc.Submit(c.Request.Context(), bankreviewdomain.SubmitRequest{
		UserID:     userID,
		Amount:     req.Amount,
		Currency:   strings.TrimSpace(req.Currency),
		PaymentFor: strings.TrimSpace(req.PaymentFor),
		ReceiptURL: strings.TrimSpace(req.ReceiptURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"submission": submission})
}

func (s *Server) GetOwnPaymentState(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	state, err := s.bankReviewSvc.State(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (s *Server) ListBankSubmissions(c *gin.Context) {
	var query listBankSubmissionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.bankReviewSvc.List(c.Request.Context(), bankreviewdomain.ListRequest{
		Pagination: query.Pagination,
		Status:     strings.TrimSpace(query.Status),
		UserID:     strings.TrimSpace(query.UserID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetBankSubmission(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	submission, err := s.bankReviewSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submission": submission})
}

// ReviewBankSubmission records the reviewer's decision. Rejections need notes.
func (s *Server) ReviewBankSubmission(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req reviewBankSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.bankReviewSvc.Review(c.Request.Context(), bankreviewdomain.ReviewRequest{
		SubmissionID: id,
		Decision:     bankreviewdomain.Decision(strings.ToLower(strings.TrimSpace(req.Decision))),
		ReviewerID:   actorID(c),
		Notes:        strings.TrimSpace(req.Notes),
		Email:        strings.TrimSpace(req.Email),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
