package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/playgroundx/settlement/internal/apikey/domain"
)

// ListAPIKeys returns key metadata. ?source= narrows to one room or feature
// module and ?active= to live or revoked keys.
func (s *Server) ListAPIKeys(c *gin.Context) {
	active, err := queryBool(c, "active")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	source := strings.ToLower(strings.TrimSpace(c.Query("source")))

	keys, err := s.apiKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filtered := keys[:0]
	for _, key := range keys {
		if source != "" && key.Source != source {
			continue
		}
		if active != nil && key.IsActive != *active {
			continue
		}
		filtered = append(filtered, key)
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": filtered})
}

// CreateAPIKey answers with the plaintext key. It is shown once; only its
// hash is kept.
func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	secret, err := s.apiKeySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, secret)
}

func (s *Server) ListAPIKeyScopes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scopes": apikeydomain.KnownScopes})
}

// RotateAPIKey issues a successor key; the old one keeps working through the
// grace window so the module can redeploy.
func (s *Server) RotateAPIKey(c *gin.Context) {
	secret, err := s.apiKeySvc.Rotate(c.Request.Context(), strings.TrimSpace(c.Param("key_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, secret)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	if err := s.apiKeySvc.Revoke(c.Request.Context(), strings.TrimSpace(c.Param("key_id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
