package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/austentel/console/mcp"
	"github.com/austentel/console/provider"
	"github.com/austentel/console/store"
)

// Env 进程级配置中与接口响应相关的部分
type Env struct {
	Name         string
	OpenAIKey    string
	AnthropicKey string
	MCPEnabled   bool
}

// Server 持有各路由共享的依赖，由 main 构造
type Server struct {
	Store   *store.Store
	Bridge  *mcp.Bridge
	Checker *provider.Checker
	Logger  *zap.Logger
	Env     Env
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.requestLogger(), s.recovery(), cors())

	api := r.Group("/api")
	{
		api.GET("/chats", s.ListChats)
		api.POST("/chats", s.CreateChat)
		api.GET("/chats/search", s.SearchChats)
		api.GET("/chats/:id", s.GetChat)
		api.PATCH("/chats/:id", s.UpdateChat)
		api.DELETE("/chats/:id", s.DeleteChat)
		api.GET("/chats/:id/messages", s.ListMessages)
		api.POST("/chats/:id/messages", s.AddMessage)

		api.GET("/settings", s.GetSettings)
		api.POST("/settings", s.UpdateSettings)
		api.PUT("/settings", s.UpdateSettings)

		api.GET("/mcp", s.MCPStatus)
		api.POST("/mcp", s.MCPCall)

		api.GET("/health", s.Health)
		api.GET("/usage", s.Usage)

		api.POST("/test-openai", s.TestOpenAI)
		api.POST("/test-claude", s.TestClaude)
	}

	return r
}

// fail 预期内的失败一律 200 + error 字段，由前端渲染
func fail(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"error": msg})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	logger := s.Logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger.Info("request", fields...)
	}
}

// recovery 未预期的 panic 返回 500
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, err any) {
		s.Logger.Error("panic recovered",
			zap.Any("panic", err),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	})
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
