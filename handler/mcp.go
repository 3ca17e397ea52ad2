package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/austentel/console/mcp"
)

func (s *Server) MCPStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Bridge.Status(c.Request.Context()))
}

// MCPCall 请求体原样交给桥解析，协议错误也以 JSON-RPC error 返回
func (s *Server) MCPCall(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.Logger.Warn("failed to read mcp request body", zap.Error(err))
		c.JSON(http.StatusOK, mcp.ErrorResponse(nil, mcplib.PARSE_ERROR, "Parse error: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, s.Bridge.Handle(c.Request.Context(), body))
}
