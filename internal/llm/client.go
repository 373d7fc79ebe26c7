package llm

import (
	"context"
	"time"
)

// Client 大模型客户端接口
// 结构化步骤只需要单轮生成，Chat保留给带系统提示词的调用方式
type Client interface {
	// Generate 根据提示词生成回答
	Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error)

	// Chat 进行多轮对话
	Chat(ctx context.Context, messages []Message, options ...GenerateOption) (*Response, error)

	// Name 返回模型名称
	Name() string
}

// Config 大模型客户端配置
type Config struct {
	APIKey      string        // API密钥
	BaseURL     string        // API基础URL，为空时使用各提供方的默认地址
	Model       string        // 模型名称
	Timeout     time.Duration // 单次请求超时
	MaxTokens   int           // 最大生成Token数
	Temperature float32       // 采样温度
	JSONMode    bool          // 要求以JSON对象格式回复（仅openai兼容接口）
}

// DefaultConfig 返回默认配置，未设置的字段由各提供方补齐
func DefaultConfig() *Config {
	return &Config{
		Timeout:     180 * time.Second,
		Temperature: -1,
	}
}

// Option 客户端配置选项函数类型
type Option func(*Config)

// WithAPIKey 设置API密钥
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithBaseURL 设置API基础URL
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel 设置模型名称
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithMaxTokens 设置最大生成Token数
func WithMaxTokens(tokens int) Option {
	return func(c *Config) {
		c.MaxTokens = tokens
	}
}

// WithTemperature 设置采样温度
func WithTemperature(temp float32) Option {
	return func(c *Config) {
		c.Temperature = temp
	}
}

// WithJSONMode 设置是否要求JSON格式回复
func WithJSONMode(enabled bool) Option {
	return func(c *Config) {
		c.JSONMode = enabled
	}
}

// NewConfig 创建一个新的配置并应用选项
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// GenerateOption 单次请求的选项
type GenerateOption func(*GenerateOptions)

// GenerateOptions 单次请求的选项集合，未设置时使用客户端配置
type GenerateOptions struct {
	MaxTokens   *int
	Temperature *float32
}

// WithGenerateMaxTokens 设置本次请求的最大Token数
func WithGenerateMaxTokens(tokens int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = &tokens
	}
}

// WithGenerateTemperature 设置本次请求的采样温度
func WithGenerateTemperature(temp float32) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = &temp
	}
}

func applyGenerateOptions(cfg *Config, options []GenerateOption) (maxTokens int, temperature float32) {
	opts := &GenerateOptions{}
	for _, opt := range options {
		opt(opts)
	}
	maxTokens, temperature = cfg.MaxTokens, cfg.Temperature
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	return maxTokens, temperature
}

// Factory 大模型客户端工厂函数类型
type Factory func(opts ...Option) (Client, error)

var clientFactories = make(map[string]Factory)

// RegisterClient 注册大模型客户端工厂函数
func RegisterClient(name string, factory Factory) {
	clientFactories[name] = factory
}

// NewClient 根据提供方名称创建大模型客户端
func NewClient(name string, opts ...Option) (Client, error) {
	factory, exists := clientFactories[name]
	if !exists {
		return nil, NewLLMError(
			ErrCodeInvalidRequest,
			"llm client type not registered: "+name)
	}
	return factory(opts...)
}

// Providers 返回已注册的提供方名称
func Providers() []string {
	names := make([]string, 0, len(clientFactories))
	for name := range clientFactories {
		names = append(names, name)
	}
	return names
}
