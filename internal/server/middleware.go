package server

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	auditcontext "github.com/playgroundx/settlement/internal/auditcontext"
	"github.com/playgroundx/settlement/internal/authorization"
	obscontext "github.com/playgroundx/settlement/internal/observability/context"
)

const (
	contextUserIDKey = "user_id"
	contextRoleKey   = "user_role"
	contextEmailKey  = "user_email"
)

// tokenClaims are issued by the PlayGroundX identity service.
type tokenClaims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTRequired authenticates fans, creators and staff with an HS256 bearer token.
func (s *Server) JWTRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok || len(s.jwtSecret) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims := &tokenClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
			return s.jwtSecret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(5*time.Second),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(s.clock.Now),
		)
		if err != nil || !token.Valid {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		subject := strings.TrimSpace(claims.Subject)
		if subject == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role := strings.ToLower(strings.TrimSpace(claims.Role))

		actorType := string(auditdomain.ActorTypeUser)
		if isStaffRole(role) {
			actorType = string(auditdomain.ActorTypeAdmin)
		}

		ctx := c.Request.Context()
		ctx = context.WithValue(ctx, contextAuthTypeKey, string(ActorUser))
		ctx = auditcontext.WithActor(ctx, actorType, subject)
		ctx = obscontext.WithActor(ctx, actorType, subject)
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextUserIDKey, subject)
		c.Set(contextRoleKey, role)
		c.Set(contextEmailKey, strings.TrimSpace(claims.Email))
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func isStaffRole(role string) bool {
	switch role {
	case authorization.RoleFinanceAdmin, authorization.RoleReviewer, authorization.RoleAuditor:
		return true
	default:
		return false
	}
}

func userIDFromContext(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.GetString(contextUserIDKey))
	return id, id != ""
}
