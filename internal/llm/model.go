package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	// RoleSystem 系统角色
	RoleSystem MessageRole = "system"
	// RoleUser 用户角色
	RoleUser MessageRole = "user"
	// RoleAssistant 助手角色
	RoleAssistant MessageRole = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Response 统一的响应结构
type Response struct {
	Text         string    // 生成的文本
	InputTokens  int       // 输入token数
	OutputTokens int       // 输出token数
	ModelName    string    // 实际使用的模型
	StopReason   string    // 结束原因
	FinishTime   time.Time // 完成时间
}

// TokenCount 总token数
func (r *Response) TokenCount() int {
	return r.InputTokens + r.OutputTokens
}

// 常用模型名称
const (
	ModelClaudeOpus4   = "claude-opus-4-20250514"
	ModelClaudeSonnet4 = "claude-sonnet-4-20250514"
	ModelGPT4o         = "gpt-4o"
)

// chatCompletionRequest OpenAI兼容接口的请求体
type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatCompletionResponse OpenAI兼容接口的响应体
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}
