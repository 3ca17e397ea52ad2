package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// exchangeWS 单次 WebSocket 交换：建连、发送请求、读到同 id 的应答后关闭。
// 不保留长连接。
func (b *Bridge) exchangeWS(ctx context.Context, serverURL, id string, req Request) (json.RawMessage, error) {
	conn, _, err := b.dialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// ctx 结束时关闭连接，让阻塞的读返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("websocket write: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		if !gjson.ValidBytes(data) {
			b.logger.Debug("websocket: ignoring invalid frame", zap.Int("size", len(data)))
			continue
		}

		// 通知和其他请求的应答不是我们要的
		if gjson.GetBytes(data, "id").String() != id {
			continue
		}

		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return decodeResult(data)
	}
}

// pingWS 握手成功即视为在线
func (b *Bridge) pingWS(ctx context.Context, serverURL string) (json.RawMessage, error) {
	conn, resp, err := b.dialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	info, err := json.Marshal(map[string]any{
		"transport": "websocket",
		"status":    resp.StatusCode,
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
