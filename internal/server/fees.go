package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetFeeSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schedule": s.feeSvc.Current()})
}

func (s *Server) ListFeeScheduleSnapshots(c *gin.Context) {
	snapshots, err := s.feeSvc.ListSnapshots(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]gin.H, 0, len(snapshots))
	for _, snapshot := range snapshots {
		out = append(out, gin.H{
			"version":   snapshot.Version,
			"checksum":  snapshot.Checksum,
			"rules":     snapshot.Rules,
			"loaded_at": snapshot.LoadedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": out})
}
