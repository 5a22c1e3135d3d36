package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/playgroundx/settlement/internal/payment/adapters"
	paymentproviderdomain "github.com/playgroundx/settlement/internal/paymentprovider/domain"
)

type providerStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

// ListPaymentProviderCatalog lists the gateways this deployment can accept
// callbacks from, with the credential fields each one needs.
func (s *Server) ListPaymentProviderCatalog(c *gin.Context) {
	catalog, err := s.providerSvc.ListCatalog(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": catalog})
}

// ListPaymentProviderConfigs returns summaries only; credentials stay sealed.
func (s *Server) ListPaymentProviderConfigs(c *gin.Context) {
	configs, err := s.providerSvc.ListConfigs(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

// UpsertPaymentProviderConfig stores or replaces a gateway's webhook
// credentials. The response never echoes them.
func (s *Server) UpsertPaymentProviderConfig(c *gin.Context) {
	var req paymentproviderdomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Provider = adapters.Normalize(req.Provider)

	summary, err := s.providerSvc.UpsertConfig(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": summary})
}

// UpdatePaymentProviderStatus pauses or resumes a gateway. Callbacks for a
// paused gateway are rejected as unknown provider.
func (s *Server) UpdatePaymentProviderStatus(c *gin.Context) {
	var req providerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		AbortWithError(c, newValidationError("is_active", "invalid_is_active", "is_active must be a boolean"))
		return
	}

	summary, err := s.providerSvc.SetActive(c.Request.Context(), adapters.Normalize(c.Param("provider")), *req.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": summary})
}
