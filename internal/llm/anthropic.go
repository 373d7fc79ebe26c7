package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicMaxTokens   = 8192
	defaultAnthropicTemperature = 0.2
)

// AnthropicClient 基于官方SDK的Messages接口客户端
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewAnthropicClient 创建Anthropic客户端
// SDK自带的重试被关闭，重试统一由Structurer处理
func NewAnthropicClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}

	model := cfg.Model
	if model == "" {
		model = ModelClaudeOpus4
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temperature := cfg.Temperature
	if temperature < 0 {
		temperature = defaultAnthropicTemperature
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(reqOpts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

// Name 返回模型名称
func (c *AnthropicClient) Name() string {
	return c.model
}

// Generate 以单条用户消息发送提示词
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}
	return c.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, options...)
}

// Chat 发送消息列表，system消息合并到请求的system字段
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, options ...GenerateOption) (*Response, error) {
	if len(messages) == 0 {
		return nil, NewLLMError(ErrCodeInvalidRequest, "messages cannot be empty")
	}

	maxTokens, temperature := applyGenerateOptions(&Config{MaxTokens: c.maxTokens, Temperature: c.temperature}, options)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(temperature)),
	}

	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{block},
			})
		default:
			params.Messages = append(params.Messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{block},
			})
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, c.convertError(err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, NewLLMError(ErrCodeEmptyReply, ErrMsgEmptyReply)
	}

	return &Response{
		Text:         sb.String(),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		ModelName:    string(message.Model),
		StopReason:   string(message.StopReason),
		FinishTime:   time.Now(),
	}, nil
}

// convertError 把SDK错误转换为LLMError
func (c *AnthropicClient) convertError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return FromStatus(apiErr.StatusCode, apiErr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewLLMError(ErrCodeTimeout, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return NewLLMError(ErrCodeNetworkError, err.Error())
}

func init() {
	RegisterClient("anthropic", NewAnthropicClient)
}
