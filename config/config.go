package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Log       LogConfig      `yaml:"log"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	MCP       MCPConfig      `yaml:"mcp"`
	Env       string         `yaml:"env"` // development/production
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // debug/test/release
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug/info/warn/error
}

// ProviderConfig 第三方 LLM 接口的默认凭据，请求体和设置中未填写时使用
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // 秒
}

// MCPConfig 远程工具服务器的默认地址，用户设置为空时兜底
type MCPConfig struct {
	ServerURL string `yaml:"server_url"`
	Enabled   bool   `yaml:"enabled"`
	Timeout   int    `yaml:"timeout"` // 毫秒
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 3000, Mode: "release"},
		Database: DatabaseConfig{Path: "./data/chat.db"},
		Log:      LogConfig{Level: "info"},
		OpenAI: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
			Timeout: 30,
		},
		Anthropic: ProviderConfig{
			BaseURL: "https://api.anthropic.com",
			Timeout: 30,
		},
		MCP: MCPConfig{
			ServerURL: "http://localhost:8083",
			Timeout:   30000,
		},
		Env: "development",
	}
}

// Load 从文件加载配置，以默认值为基础覆盖；未知字段视为错误，空文件保留默认值
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("parse config %s: invalid server.port %d", path, cfg.Server.Port)
	}
	return cfg, nil
}

// ApplyEnv 用环境变量覆盖配置，只在进程启动时调用一次
func ApplyEnv(cfg *Config) error {
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		cfg.Database.Path = strings.TrimPrefix(v, "file:")
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("APP_ENV"); ok {
		cfg.Env = v
	}

	if v, ok := lookup("OPENAI_API_KEY"); ok {
		cfg.OpenAI.APIKey = v
	}
	if v, ok := lookup("OPENAI_BASE_URL"); ok {
		cfg.OpenAI.BaseURL = v
	}
	if v, ok := lookup("ANTHROPIC_API_KEY"); ok {
		cfg.Anthropic.APIKey = v
	}
	if v, ok := lookup("ANTHROPIC_BASE_URL"); ok {
		cfg.Anthropic.BaseURL = v
	}

	if v, ok := lookup("MCP_SERVER_URL"); ok {
		cfg.MCP.ServerURL = v
	}
	if v, ok := lookup("MCP_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MCP_ENABLED %q: %w", v, err)
		}
		cfg.MCP.Enabled = enabled
	}
	return nil
}

// Addr 返回 HTTP 监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// lookup 空字符串视为未设置
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}
