package llm

import (
	"fmt"
	"net/http"
)

// LLMError 大模型调用错误类型
type LLMError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e LLMError) Error() string {
	return fmt.Sprintf("llm error (code=%d): %s", e.Code, e.Message)
}

// Retryable 网络错误、限流、服务端错误和超时可以重试
func (e LLMError) Retryable() bool {
	switch e.Code {
	case ErrCodeNetworkError, ErrCodeRateLimited, ErrCodeServerError, ErrCodeTimeout, ErrCodeModelOverload:
		return true
	}
	return false
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyPrompt    = 1007 // 提示词为空
	ErrCodeContentFilter  = 1008 // 内容安全过滤
	ErrCodeModelOverload  = 1009 // 模型过载
	ErrCodeContextTooLong = 1010 // 上下文过长
	ErrCodeEmptyReply     = 1011 // 回复中没有文本
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyPrompt    = "prompt cannot be empty"
	ErrMsgNetworkError   = "network connection error"
	ErrMsgModelOverload  = "model is currently overloaded"
	ErrMsgEmptyReply     = "reply contains no text"
)

// NewLLMError 创建新的大模型错误
func NewLLMError(code int, message string) LLMError {
	return LLMError{
		Code:    code,
		Message: message,
	}
}

// WrapError 包装普通错误为LLM错误
func WrapError(err error, code int) LLMError {
	if err == nil {
		return LLMError{Code: code, Message: "unknown error"}
	}
	if llmErr, ok := err.(LLMError); ok {
		return llmErr
	}
	return LLMError{
		Code:    code,
		Message: err.Error(),
	}
}

// FromStatus 把HTTP状态码映射为错误码
func FromStatus(status int, message string) LLMError {
	code := ErrCodeServerError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = ErrCodeInvalidAPIKey
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = ErrCodeTimeout
	case status == http.StatusRequestEntityTooLarge:
		code = ErrCodeContextTooLong
	case status == 529 || status == http.StatusServiceUnavailable:
		code = ErrCodeModelOverload
	case status >= 400 && status < 500:
		code = ErrCodeInvalidRequest
	}
	return NewLLMError(code, fmt.Sprintf("status %d: %s", status, message))
}

// StructuringError 一个分块的结构化请求在重试耗尽后仍然失败
// 保留最后一次的原始回复和清理后的回复用于排查
type StructuringError struct {
	Attempts     int
	RawReply     string
	CleanedReply string
	Cause        error
}

// Error 实现error接口
func (e *StructuringError) Error() string {
	return fmt.Sprintf("structuring failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

// Unwrap 返回最后一次失败的原因
func (e *StructuringError) Unwrap() error {
	return e.Cause
}
