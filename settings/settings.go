// Package settings 定义用户设置文档：四个固定分区、编译期默认值、
// 按分区逐字段合并的局部更新。文档整体以 JSON 存储，结构只在这里约束。
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultUserID 单用户部署下设置行的主键
const DefaultUserID = "default"

var (
	ErrInvalidPatch   = errors.New("invalid settings patch")
	ErrUnknownSection = errors.New("unknown settings section")
	ErrInvalidValue   = errors.New("invalid settings value")
)

var emojiStyles = map[string]bool{
	"native":  true,
	"apple":   true,
	"google":  true,
	"twitter": true,
}

type Document struct {
	OpenAI          Provider        `json:"openai"`
	Claude          Provider        `json:"claude"`
	MCP             MCP             `json:"mcp"`
	Personalization Personalization `json:"personalization"`
}

type Provider struct {
	APIKey  string `json:"apiKey"`
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl"`
}

type MCP struct {
	Enabled   bool   `json:"enabled"`
	ServerURL string `json:"serverUrl"`
	Timeout   int    `json:"timeout"` // 毫秒
}

type Personalization struct {
	Avatar          string `json:"avatar"`
	Username        string `json:"username"`
	EnableEmojis    bool   `json:"enableEmojis"`
	EmojiStyle      string `json:"emojiStyle"`
	CustomAvatarURL string `json:"customAvatarUrl"`
}

// Defaults 返回编译期默认设置
func Defaults() Document {
	return Document{
		OpenAI: Provider{
			Enabled: true,
			BaseURL: "https://api.openai.com/v1",
		},
		Claude: Provider{
			Enabled: true,
			BaseURL: "https://api.anthropic.com",
		},
		MCP: MCP{
			Enabled: false,
			Timeout: 30000,
		},
		Personalization: Personalization{
			Avatar:       "default",
			Username:     "User",
			EnableEmojis: true,
			EmojiStyle:   "native",
		},
	}
}

// Decode 把存储的 JSON 解到默认值之上，缺失字段保留默认值
func Decode(data []byte, defaults Document) (Document, error) {
	doc := defaults
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return defaults, err
	}
	return doc.Normalize(defaults), nil
}

// Normalize 空字符串和非正超时回落到默认值
func (d Document) Normalize(defaults Document) Document {
	if d.OpenAI.BaseURL == "" {
		d.OpenAI.BaseURL = defaults.OpenAI.BaseURL
	}
	if d.Claude.BaseURL == "" {
		d.Claude.BaseURL = defaults.Claude.BaseURL
	}
	if d.MCP.Timeout <= 0 {
		d.MCP.Timeout = defaults.MCP.Timeout
	}
	p := &d.Personalization
	if p.Avatar == "" {
		p.Avatar = defaults.Personalization.Avatar
	}
	if p.Username == "" {
		p.Username = defaults.Personalization.Username
	}
	if p.EmojiStyle == "" {
		p.EmojiStyle = defaults.Personalization.EmojiStyle
	}
	return d
}

// MCPTimeout 远程调用超时
func (d Document) MCPTimeout() time.Duration {
	return time.Duration(d.MCP.Timeout) * time.Millisecond
}

type ProviderPatch struct {
	APIKey  *string `json:"apiKey"`
	Enabled *bool   `json:"enabled"`
	BaseURL *string `json:"baseUrl"`
}

type MCPPatch struct {
	Enabled   *bool   `json:"enabled"`
	ServerURL *string `json:"serverUrl"`
	Timeout   *int    `json:"timeout"`
}

type PersonalizationPatch struct {
	Avatar          *string `json:"avatar"`
	Username        *string `json:"username"`
	EnableEmojis    *bool   `json:"enableEmojis"`
	EmojiStyle      *string `json:"emojiStyle"`
	CustomAvatarURL *string `json:"customAvatarUrl"`
}

// Patch 局部更新；nil 分区表示不修改，分区内 nil 字段同理
type Patch struct {
	OpenAI          *ProviderPatch
	Claude          *ProviderPatch
	MCP             *MCPPatch
	Personalization *PersonalizationPatch
}

// Empty 没有任何分区
func (p Patch) Empty() bool {
	return p.OpenAI == nil && p.Claude == nil && p.MCP == nil && p.Personalization == nil
}

// ParsePatch 解析请求体；顶层只接受四个已知分区
func ParsePatch(data []byte) (Patch, error) {
	var p Patch
	if !gjson.ValidBytes(data) {
		return p, fmt.Errorf("%w: malformed JSON", ErrInvalidPatch)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return p, fmt.Errorf("%w: expected a JSON object", ErrInvalidPatch)
	}

	var err error
	root.ForEach(func(key, value gjson.Result) bool {
		switch name := key.String(); name {
		case "openai":
			p.OpenAI, err = decodeSection[ProviderPatch](name, value)
		case "claude":
			p.Claude, err = decodeSection[ProviderPatch](name, value)
		case "mcp":
			p.MCP, err = decodeSection[MCPPatch](name, value)
		case "personalization":
			p.Personalization, err = decodeSection[PersonalizationPatch](name, value)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownSection, name)
		}
		return err == nil
	})
	if err != nil {
		return Patch{}, err
	}
	if err := p.validate(); err != nil {
		return Patch{}, err
	}
	return p, nil
}

func decodeSection[T any](name string, value gjson.Result) (*T, error) {
	if value.Type == gjson.Null {
		return nil, nil
	}
	if !value.IsObject() {
		return nil, fmt.Errorf("%w: section %q must be an object", ErrInvalidPatch, name)
	}
	var section T
	if err := json.Unmarshal([]byte(value.Raw), &section); err != nil {
		return nil, fmt.Errorf("%w: section %q: %v", ErrInvalidPatch, name, err)
	}
	return &section, nil
}

func (p Patch) validate() error {
	if p.MCP != nil && p.MCP.Timeout != nil && *p.MCP.Timeout <= 0 {
		return fmt.Errorf("%w: mcp.timeout must be positive, got %d", ErrInvalidValue, *p.MCP.Timeout)
	}
	if p.Personalization != nil && p.Personalization.EmojiStyle != nil && !emojiStyles[*p.Personalization.EmojiStyle] {
		return fmt.Errorf("%w: personalization.emojiStyle %q", ErrInvalidValue, *p.Personalization.EmojiStyle)
	}
	return nil
}

// Apply 按分区逐字段合并，返回新文档
func (d Document) Apply(p Patch) Document {
	if p.OpenAI != nil {
		p.OpenAI.apply(&d.OpenAI)
	}
	if p.Claude != nil {
		p.Claude.apply(&d.Claude)
	}
	if p.MCP != nil {
		p.MCP.apply(&d.MCP)
	}
	if p.Personalization != nil {
		p.Personalization.apply(&d.Personalization)
	}
	return d
}

func (p *ProviderPatch) apply(dst *Provider) {
	setIf(&dst.APIKey, p.APIKey)
	setIf(&dst.Enabled, p.Enabled)
	setIf(&dst.BaseURL, p.BaseURL)
}

func (p *MCPPatch) apply(dst *MCP) {
	setIf(&dst.Enabled, p.Enabled)
	setIf(&dst.ServerURL, p.ServerURL)
	setIf(&dst.Timeout, p.Timeout)
}

func (p *PersonalizationPatch) apply(dst *Personalization) {
	setIf(&dst.Avatar, p.Avatar)
	setIf(&dst.Username, p.Username)
	setIf(&dst.EnableEmojis, p.EnableEmojis)
	setIf(&dst.EmojiStyle, p.EmojiStyle)
	setIf(&dst.CustomAvatarURL, p.CustomAvatarURL)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
