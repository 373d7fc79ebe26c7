package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIMaxTokens = 2048
)

// OpenAIClient OpenAI兼容的chat completions客户端
// 重试由Structurer负责，这里每次调用只发送一个请求
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	maxTokens   int
	temperature float32
	jsonMode    bool
}

// NewOpenAIClient 创建OpenAI兼容客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = ModelGPT4o
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
	}
	temperature := cfg.Temperature
	if temperature < 0 {
		temperature = 0
	}

	return &OpenAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxTokens:   maxTokens,
		temperature: temperature,
		jsonMode:    cfg.JSONMode,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Generate 以单条用户消息发送提示词
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}
	return c.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, options...)
}

// Chat 发送消息列表
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, options ...GenerateOption) (*Response, error) {
	if len(messages) == 0 {
		return nil, NewLLMError(ErrCodeInvalidRequest, "messages cannot be empty")
	}

	maxTokens, temperature := applyGenerateOptions(&Config{MaxTokens: c.maxTokens, Temperature: c.temperature}, options)
	req := &chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if c.jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.processResponse(resp)
}

// sendRequest 发送请求并解析响应
func (c *OpenAIClient) sendRequest(ctx context.Context, req *chatCompletionRequest) (*chatCompletionResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewLLMError(ErrCodeTimeout, err.Error())
		}
		return nil, NewLLMError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError(ErrCodeNetworkError, fmt.Sprintf("failed to read response: %v", err))
	}

	var parsed chatCompletionResponse
	jsonErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if jsonErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, FromStatus(resp.StatusCode, msg)
	}
	if jsonErr != nil {
		return nil, NewLLMError(ErrCodeServerError, fmt.Sprintf("failed to parse response: %v", jsonErr))
	}
	return &parsed, nil
}

// processResponse 取第一个候选的消息内容
func (c *OpenAIClient) processResponse(resp *chatCompletionResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, NewLLMError(ErrCodeEmptyReply, ErrMsgEmptyReply)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, NewLLMError(ErrCodeContentFilter, "reply blocked by content filter")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Text:         choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelName:    model,
		StopReason:   choice.FinishReason,
		FinishTime:   time.Now(),
	}, nil
}

func init() {
	RegisterClient("openai", NewOpenAIClient)
}
