package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/austentel/console/settings"
)

func (s *Server) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"settings": s.Store.GetSettings(c.Request.Context())})
}

// UpdateSettings POST 与 PUT 语义相同：按分区局部合并
func (s *Server) UpdateSettings(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, "Invalid request body")
		return
	}

	patch, err := settings.ParsePatch(body)
	if err != nil {
		s.Logger.Info("rejected settings patch", zap.Error(err))
		fail(c, err.Error())
		return
	}

	doc, err := s.Store.UpdateSettings(c.Request.Context(), patch)
	if err != nil {
		s.Logger.Error("failed to update settings", zap.Error(err))
		fail(c, "Failed to update settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": doc})
}
