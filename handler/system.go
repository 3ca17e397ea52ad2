package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/austentel/console/tokens"
)

type apiStatus struct {
	OpenAI    bool `json:"openai"`
	Anthropic bool `json:"anthropic"`
	MCP       bool `json:"mcp"`
}

type healthResponse struct {
	Status      string     `json:"status"`
	Timestamp   string     `json:"timestamp"`
	Database    string     `json:"database,omitempty"`
	APIs        *apiStatus `json:"apis,omitempty"`
	Environment string     `json:"environment,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Health 数据库可达性 + 环境中是否配置了各服务商的 key
func (s *Server) Health(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.Store.Ping(c.Request.Context()); err != nil {
		s.Logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusOK, healthResponse{
			Status:    "unhealthy",
			Timestamp: now,
			Error:     err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: now,
		Database:  "connected",
		APIs: &apiStatus{
			OpenAI:    s.Env.OpenAIKey != "",
			Anthropic: s.Env.AnthropicKey != "",
			MCP:       s.Env.MCPEnabled,
		},
		Environment: s.Env.Name,
	})
}

func (s *Server) Usage(c *gin.Context) {
	total, err := s.Store.TotalTokensUsed(c.Request.Context())
	if err != nil {
		s.Logger.Error("failed to sum token usage", zap.Error(err))
		fail(c, "Failed to fetch usage")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalTokens": total,
		"formatted":   tokens.FormatTokenCount(total),
	})
}

type credentialRequest struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
}

// TestOpenAI 请求体为空的字段依次回落到已保存的设置和环境变量
func (s *Server) TestOpenAI(c *gin.Context) {
	var req credentialRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, "Invalid request body")
		return
	}

	doc := s.Store.GetSettings(c.Request.Context())
	key := firstNonEmpty(req.APIKey, doc.OpenAI.APIKey, s.Env.OpenAIKey)
	baseURL := firstNonEmpty(req.BaseURL, doc.OpenAI.BaseURL)

	c.JSON(http.StatusOK, s.Checker.TestOpenAI(c.Request.Context(), key, baseURL))
}

func (s *Server) TestClaude(c *gin.Context) {
	var req credentialRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, "Invalid request body")
		return
	}

	doc := s.Store.GetSettings(c.Request.Context())
	key := firstNonEmpty(req.APIKey, doc.Claude.APIKey, s.Env.AnthropicKey)
	baseURL := firstNonEmpty(req.BaseURL, doc.Claude.BaseURL)

	c.JSON(http.StatusOK, s.Checker.TestClaude(c.Request.Context(), key, baseURL))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
