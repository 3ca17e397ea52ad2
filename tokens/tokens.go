// Package tokens 估算文本 token 数并按静态价格表计算费用，纯函数，无 I/O
package tokens

import (
	"fmt"
	"unicode/utf8"
)

// DefaultModel 消息未指定模型时用于估算的模型
const DefaultModel = "gpt-4"

// Usage 一次请求的 token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Price 每 1000 token 的美元价格
type Price struct {
	Input  float64
	Output float64
}

// 修正系数以千分比表示，避免浮点乘法导致 ceil 结果漂移
var modelFactors = map[string]int{
	"gpt-4":           1000,
	"gpt-4-turbo":     1000,
	"gpt-4o":          1000,
	"gpt-3.5-turbo":   950,
	"claude-3-opus":   1100,
	"claude-3-sonnet": 1100,
	"claude-3-haiku":  1100,
}

var pricing = map[string]Price{
	"gpt-4":           {Input: 0.03, Output: 0.06},
	"gpt-4-turbo":     {Input: 0.01, Output: 0.03},
	"gpt-4o":          {Input: 0.005, Output: 0.015},
	"gpt-3.5-turbo":   {Input: 0.0005, Output: 0.0015},
	"claude-3-opus":   {Input: 0.015, Output: 0.075},
	"claude-3-sonnet": {Input: 0.003, Output: 0.015},
	"claude-3-haiku":  {Input: 0.00025, Output: 0.00125},
}

// EstimateTokens 约 4 个字符 1 个 token，再乘以模型修正系数
func EstimateTokens(text, model string) int {
	base := (utf8.RuneCountInString(text) + 3) / 4
	factor := factorFor(model)
	return (base*factor + 999) / 1000
}

// factorFor 只认精确模型名，其余一律 1.0
func factorFor(model string) int {
	if f, ok := modelFactors[model]; ok {
		return f
	}
	return 1000
}

// CalculateCost 价格表中没有的模型返回 0
func CalculateCost(usage Usage, model string) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	input := float64(usage.PromptTokens) / 1000 * p.Input
	output := float64(usage.CompletionTokens) / 1000 * p.Output
	return input + output
}

// PriceFor 返回模型价格，未知模型 ok 为 false
func PriceFor(model string) (Price, bool) {
	p, ok := pricing[model]
	return p, ok
}

// FormatTokenCount 格式化为 950 / 1.5K / 2.3M
func FormatTokenCount(count int64) string {
	switch {
	case count < 1000:
		return fmt.Sprintf("%d", count)
	case count < 1000000:
		return fmt.Sprintf("%.1fK", float64(count)/1000)
	default:
		return fmt.Sprintf("%.1fM", float64(count)/1000000)
	}
}
