// Package provider 对 LLM 服务商做一次性的凭据连通性检查
package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"go.uber.org/zap"
)

const (
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"

	// 检查用的最便宜模型
	claudeCheckModel = "claude-3-haiku-20240307"
)

const (
	msgOpenAIOK   = "OpenAI API connection successful"
	msgClaudeOK   = "Claude API connection successful"
	msgRejected   = "Invalid API key or connection failed"
	msgConnFailed = "Connection failed"
	msgMissingKey = "API key is required"
)

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Checker struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewChecker(timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Checker{
		timeout: timeout,
		logger:  logger.Named("provider"),
	}
}

// TestOpenAI GET {baseURL}/models，不重试
func (c *Checker) TestOpenAI(ctx context.Context, apiKey, baseURL string) Result {
	if strings.TrimSpace(apiKey) == "" {
		return Result{Message: msgMissingKey}
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)
	_, err := client.Models.List(ctx)
	if err != nil {
		c.logger.Warn("openai check failed", zap.String("base_url", baseURL), zap.Error(err))

		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Result{Message: msgRejected}
		}
		return Result{Message: msgConnFailed}
	}

	c.logger.Info("openai check succeeded", zap.String("base_url", baseURL))
	return Result{Success: true, Message: msgOpenAIOK}
}

// TestClaude 发一次 max_tokens=1 的 messages 调用
func (c *Checker) TestClaude(ctx context.Context, apiKey, baseURL string) Result {
	if strings.TrimSpace(apiKey) == "" {
		return Result{Message: msgMissingKey}
	}
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	recorder := &statusRecorder{client: http.DefaultClient}
	llm, err := anthropic.New(
		anthropic.WithToken(apiKey),
		anthropic.WithBaseURL(strings.TrimRight(baseURL, "/")+"/v1"),
		anthropic.WithModel(claudeCheckModel),
		anthropic.WithHTTPClient(recorder),
	)
	if err != nil {
		c.logger.Warn("claude client init failed", zap.Error(err))
		return Result{Message: msgRejected}
	}

	_, err = llms.GenerateFromSinglePrompt(ctx, llm, "test", llms.WithMaxTokens(1))
	if err != nil && recorder.status() == http.StatusBadRequest {
		// 1 token 的请求可能被判为无效参数，但 key 已通过鉴权
		c.logger.Info("claude check accepted with 400", zap.String("base_url", baseURL))
		return Result{Success: true, Message: msgClaudeOK}
	}
	if err != nil {
		c.logger.Warn("claude check failed", zap.String("base_url", baseURL), zap.Error(err))
		if isConnError(err) {
			return Result{Message: msgConnFailed}
		}
		return Result{Message: msgRejected}
	}

	c.logger.Info("claude check succeeded", zap.String("base_url", baseURL))
	return Result{Success: true, Message: msgClaudeOK}
}

// statusRecorder 记下最后一次上游应答的状态码
type statusRecorder struct {
	client *http.Client
	mu     sync.Mutex
	last   int
}

func (r *statusRecorder) Do(req *http.Request) (*http.Response, error) {
	resp, err := r.client.Do(req)
	if err == nil {
		r.mu.Lock()
		r.last = resp.StatusCode
		r.mu.Unlock()
	}
	return resp, err
}

func (r *statusRecorder) status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func isConnError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
