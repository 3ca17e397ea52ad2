package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/austentel/console/settings"
)

// SettingsSource 每次调用时读取最新的 MCP 设置
type SettingsSource interface {
	GetSettings(ctx context.Context) settings.Document
}

type Bridge struct {
	settings   SettingsSource
	defaultURL string
	client     *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

// NewBridge defaultURL 在设置中 serverUrl 为空时使用
func NewBridge(src SettingsSource, defaultURL string, logger *zap.Logger) *Bridge {
	return &Bridge{
		settings:   src,
		defaultURL: defaultURL,
		client:     &http.Client{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.Named("mcp"),
	}
}

// Handle 解析并分派一个 JSON-RPC 请求，总是返回一个 Response
func (b *Bridge) Handle(ctx context.Context, raw []byte) Response {
	if !gjson.ValidBytes(raw) {
		return failure(nil, mcplib.PARSE_ERROR, "Parse error")
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return failure(nil, mcplib.INVALID_REQUEST, "Invalid Request")
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(rawID(parsed), mcplib.INVALID_REQUEST, "Invalid Request")
	}
	if req.Method == "" {
		return failure(req.ID, mcplib.INVALID_REQUEST, "Invalid Request: method is required")
	}

	b.logger.Debug("request", zap.String("method", req.Method))

	switch mcplib.MCPMethod(req.Method) {
	case mcplib.MethodInitialize:
		return result(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      serverInfo(),
			Capabilities: map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
		})
	case mcplib.MethodToolsList:
		return result(req.ID, mcplib.ListToolsResult{Tools: Tools()})
	case mcplib.MethodResourcesList:
		return result(req.ID, mcplib.ListResourcesResult{Resources: []mcplib.Resource{}})
	case mcplib.MethodToolsCall:
		return b.callTool(ctx, req)
	default:
		return failure(req.ID, mcplib.METHOD_NOT_FOUND, "Method not found")
	}
}

func (b *Bridge) callTool(ctx context.Context, req Request) Response {
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return failure(req.ID, mcplib.INVALID_PARAMS, "Invalid params: "+err.Error())
		}
	}
	if params.Name == "" {
		return failure(req.ID, mcplib.INVALID_PARAMS, "Invalid params: tool name is required")
	}

	doc := b.settings.GetSettings(ctx)
	serverURL := b.serverURL(doc)
	timeout := doc.MCPTimeout()

	start := time.Now()
	res, err := b.withTimeout(ctx, timeout, func(ctx context.Context) (json.RawMessage, error) {
		return b.forward(ctx, serverURL, params.Name, params.Arguments)
	})
	if err == nil {
		b.logger.Info("tool call",
			zap.String("tool", params.Name),
			zap.Duration("elapsed", time.Since(start)))
		return result(req.ID, res)
	}

	// 只降级一次，不重试
	b.logger.Warn("tool call failed, trying direct endpoint",
		zap.String("tool", params.Name),
		zap.String("url", serverURL),
		zap.Error(err))

	res, err = b.withTimeout(ctx, timeout, func(ctx context.Context) (json.RawMessage, error) {
		return b.direct(ctx, serverURL, params.Name, params.Arguments)
	})
	if err != nil {
		b.logger.Error("direct tool call failed", zap.String("tool", params.Name), zap.Error(err))
		return failure(req.ID, mcplib.INTERNAL_ERROR, err.Error())
	}
	return result(req.ID, res)
}

func (b *Bridge) withTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func (b *Bridge) serverURL(doc settings.Document) string {
	if u := strings.TrimSpace(doc.MCP.ServerURL); u != "" {
		return u
	}
	return b.defaultURL
}

type StatusResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Server  json.RawMessage `json:"server,omitempty"`
	Error   string          `json:"error,omitempty"`
	URL     string          `json:"url"`
}

const (
	StatusDisabled     = "disabled"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Status 探测远端工具服务器。mcp.enabled 为 false 时不发起任何网络请求。
func (b *Bridge) Status(ctx context.Context) StatusResult {
	doc := b.settings.GetSettings(ctx)
	serverURL := b.serverURL(doc)

	if !doc.MCP.Enabled {
		return StatusResult{
			Status:  StatusDisabled,
			Message: "MCP is disabled in settings",
			URL:     serverURL,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, doc.MCPTimeout())
	defer cancel()

	server, err := b.ping(ctx, serverURL)
	if err != nil {
		b.logger.Warn("mcp server unreachable", zap.String("url", serverURL), zap.Error(err))
		return StatusResult{Status: StatusDisconnected, Error: err.Error(), URL: serverURL}
	}
	return StatusResult{Status: StatusConnected, Server: server, URL: serverURL}
}
