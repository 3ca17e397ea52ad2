package mcp

import (
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// ServerName initialize 应答中的 serverInfo.name
const ServerName = "AUSTENTEL MCP Bridge"

func serverInfo() mcplib.Implementation {
	return mcplib.Implementation{Name: ServerName, Version: "1.0.0"}
}

func noArgs() mcplib.ToolInputSchema {
	return mcplib.ToolInputSchema{
		Type:       "object",
		Properties: map[string]any{},
		Required:   []string{},
	}
}

// Tools 返回静态工具目录。目录固定，不探测远端是否可达。
func Tools() []mcplib.Tool {
	return []mcplib.Tool{
		{
			Name:        "test",
			Description: "Test MCP connectivity",
			InputSchema: noArgs(),
		},
		{
			Name:        "ssh_command",
			Description: "Execute command on remote server",
			InputSchema: mcplib.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"host":    map[string]any{"type": "string", "description": "Target host IP address"},
					"command": map[string]any{"type": "string", "description": "Command to execute"},
				},
				Required: []string{"host", "command"},
			},
		},
		{
			Name:        "check_port",
			Description: "Check if a network port is open",
			InputSchema: mcplib.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"host": map[string]any{"type": "string", "description": "Target host"},
					"port": map[string]any{"type": "integer", "description": "Port number", "default": 80},
				},
				Required: []string{"host"},
			},
		},
		{
			Name:        "freeswitch_status",
			Description: "Check FreeSWITCH service status",
			InputSchema: noArgs(),
		},
		{
			Name:        "valkey_status",
			Description: "Check Valkey cache status",
			InputSchema: noArgs(),
		},
		{
			Name:        "calculate",
			Description: "Add two numbers",
			InputSchema: mcplib.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"a": map[string]any{"type": "number", "description": "First number"},
					"b": map[string]any{"type": "number", "description": "Second number"},
				},
				Required: []string{"a", "b"},
			},
		},
	}
}
