package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
)

func (s *Server) ListAlerts(c *gin.Context) {
	unresolved, err := queryBool(c, "unresolved")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := queryLimit(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filter := alertdomain.ListFilter{
		Kind:  alertdomain.Kind(strings.TrimSpace(c.Query("kind"))),
		Limit: limit,
	}
	if unresolved != nil {
		filter.OnlyUnresolved = *unresolved
	}

	alerts, err := s.alertSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// ResolveAlert acknowledges an alert. Nothing else resolves one.
func (s *Server) ResolveAlert(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.alertSvc.Resolve(c.Request.Context(), id, actorID(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
