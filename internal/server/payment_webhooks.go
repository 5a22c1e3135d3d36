package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	obsmiddleware "github.com/playgroundx/settlement/internal/observability/logger"
	"github.com/playgroundx/settlement/internal/payment/adapters"
)

// Gateways sign the raw bytes, so the body is read whole before anything
// parses it. Real callbacks are a few kilobytes.
const maxWebhookBody = 1 << 20

// HandlePaymentWebhook verifies and applies a gateway callback. A redelivered
// event answers 200 with duplicate=true so the gateway stops retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := adapters.Normalize(c.Param("provider"))
	c.Set(obsmiddleware.ContextSourceKey, "gateway:"+provider)

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, newValidationError("body", "payload_too_large", "webhook body exceeds 1MB"))
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(obsmiddleware.ContextEventTypeKey, outcome.EventType)
	c.Set(obsmiddleware.ContextDuplicateKey, outcome.Duplicate)
	c.JSON(http.StatusOK, outcome)
}
