// Package mcp 实现 JSON-RPC 2.0 形式的 MCP 桥：协议层调用在本地应答，
// tools/call 转发到远端工具服务器，失败时降级为一次直连 HTTP 调用。
package mcp

import (
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// ProtocolVersion initialize 应答中声明的协议版本
const ProtocolVersion = "2024-11-05"

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response 的 ID 原样回显请求中的 id（含 null）
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

type InitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	ServerInfo      mcplib.Implementation `json:"serverInfo"`
	Capabilities    map[string]any        `json:"capabilities"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func result(id json.RawMessage, v any) Response {
	return Response{JSONRPC: mcplib.JSONRPC_VERSION, ID: id, Result: v}
}

func failure(id json.RawMessage, code int, message string) Response {
	return Response{
		JSONRPC: mcplib.JSONRPC_VERSION,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// ErrorResponse 供调用方在进入 Handle 之前报告协议错误
func ErrorResponse(id json.RawMessage, code int, message string) Response {
	return failure(id, code, message)
}
