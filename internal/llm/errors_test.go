package llm

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      int
		retryable bool
	}{
		{http.StatusUnauthorized, ErrCodeInvalidAPIKey, false},
		{http.StatusBadRequest, ErrCodeInvalidRequest, false},
		{http.StatusRequestEntityTooLarge, ErrCodeContextTooLong, false},
		{http.StatusTooManyRequests, ErrCodeRateLimited, true},
		{http.StatusInternalServerError, ErrCodeServerError, true},
		{http.StatusServiceUnavailable, ErrCodeModelOverload, true},
		{529, ErrCodeModelOverload, true},
		{http.StatusGatewayTimeout, ErrCodeTimeout, true},
	}
	for _, tt := range tests {
		err := FromStatus(tt.status, "msg")
		assert.Equal(t, tt.code, err.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, err.Retryable(), "status %d", tt.status)
	}
}

func TestWrapError(t *testing.T) {
	original := NewLLMError(ErrCodeTimeout, ErrMsgTimeout)
	assert.Equal(t, original, WrapError(original, ErrCodeServerError))

	wrapped := WrapError(errors.New("plain"), ErrCodeNetworkError)
	assert.Equal(t, ErrCodeNetworkError, wrapped.Code)
	assert.Equal(t, "plain", wrapped.Message)
}

func TestStructuringErrorUnwrap(t *testing.T) {
	cause := NewLLMError(ErrCodeRateLimited, ErrMsgRateLimited)
	err := &StructuringError{Attempts: 3, RawReply: "raw", Cause: cause}

	var llmErr LLMError
	assert.True(t, errors.As(err, &llmErr))
	assert.Contains(t, err.Error(), "3 attempt(s)")
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient("unknown")
	var llmErr LLMError
	assert.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrCodeInvalidRequest, llmErr.Code)

	assert.ElementsMatch(t, []string{"anthropic", "openai"}, Providers())
}
