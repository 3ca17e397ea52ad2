package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
)

// 远端应答体上限
const maxResponseSize = 10 << 20

// forward 以 JSON-RPC tools/call 把调用转发给远端
func (b *Bridge) forward(ctx context.Context, serverURL, name string, args json.RawMessage) (json.RawMessage, error) {
	params, err := json.Marshal(toolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	id := shortuuid.New()
	req := Request{
		JSONRPC: mcplib.JSONRPC_VERSION,
		ID:      json.RawMessage(fmt.Sprintf("%q", id)),
		Method:  string(mcplib.MethodToolsCall),
		Params:  params,
	}

	if isWebSocket(serverURL) {
		return b.exchangeWS(ctx, serverURL, id, req)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data, err := b.post(ctx, serverURL, body)
	if err != nil {
		return nil, err
	}
	return decodeResult(data)
}

// direct 直接 POST 参数到 {serverURL}/{name}
func (b *Bridge) direct(ctx context.Context, serverURL, name string, args json.RawMessage) (json.RawMessage, error) {
	endpoint := strings.TrimRight(httpBase(serverURL), "/") + "/" + url.PathEscape(name)

	body := []byte(args)
	if len(bytes.TrimSpace(body)) == 0 || string(body) == "null" {
		body = []byte("{}")
	}

	data, err := b.post(ctx, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("tool execution failed: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("tool execution failed: invalid JSON response")
	}
	return json.RawMessage(data), nil
}

func (b *Bridge) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

// ping GET 服务器根地址，应答须为 JSON
func (b *Bridge) ping(ctx context.Context, serverURL string) (json.RawMessage, error) {
	if isWebSocket(serverURL) {
		return b.pingWS(ctx, serverURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("server returned non-JSON response (status %d)", resp.StatusCode)
	}
	return json.RawMessage(data), nil
}

// decodeResult 取 JSON-RPC 应答的 result；error 非空视为失败
func decodeResult(data []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON from MCP server")
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() && e.Type != gjson.Null {
		msg := e.Get("message").String()
		if msg == "" {
			msg = "MCP request failed"
		}
		return nil, errors.New(msg)
	}
	res := gjson.GetBytes(data, "result")
	if !res.Exists() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res.Raw), nil
}

func isWebSocket(serverURL string) bool {
	return strings.HasPrefix(serverURL, "ws://") || strings.HasPrefix(serverURL, "wss://")
}

// httpBase 把 ws(s) 地址换成对应的 http(s) 地址
func httpBase(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "ws://"):
		return "http://" + strings.TrimPrefix(serverURL, "ws://")
	case strings.HasPrefix(serverURL, "wss://"):
		return "https://" + strings.TrimPrefix(serverURL, "wss://")
	}
	return serverURL
}

func rawID(parsed gjson.Result) json.RawMessage {
	id := parsed.Get("id")
	if !id.Exists() {
		return nil
	}
	return json.RawMessage(id.Raw)
}
