package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	auditcontext "github.com/playgroundx/settlement/internal/auditcontext"
	obscontext "github.com/playgroundx/settlement/internal/observability/context"
)

const (
	contextAuthTypeKey     = "auth_type"
	contextAPIKeyIDKey     = "api_key_id"
	contextAPIKeySourceKey = "api_key_source"
	contextAPIKeyScopesKey = "api_key_scopes"
)

// APIKeyRequired authenticates room and feature modules by API key. The
// key's source is the only source its events may carry.
func (s *Server) APIKeyRequired(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, err := s.apiKeySvc.Authenticate(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if scope != "" && !key.HasScope(scope) {
			AbortWithError(c, ErrForbidden)
			return
		}

		ctx := c.Request.Context()
		scopes := append([]string(nil), key.Scopes...)
		ctx = context.WithValue(ctx, contextAuthTypeKey, string(ActorAPIKey))
		ctx = context.WithValue(ctx, contextAPIKeyIDKey, key.KeyID)
		ctx = context.WithValue(ctx, contextAPIKeySourceKey, key.Source)
		ctx = context.WithValue(ctx, contextAPIKeyScopesKey, scopes)
		ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeAPIKey), key.KeyID)
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeAPIKey), key.KeyID)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func apiKeySourceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	source, _ := ctx.Value(contextAPIKeySourceKey).(string)
	return strings.TrimSpace(source)
}

func requireScope(scopes []string, scope string) bool {
	for _, granted := range scopes {
		if granted == scope {
			return true
		}
	}
	return false
}
