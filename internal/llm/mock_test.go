package llm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// mockClient 基于testify/mock的客户端
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	args := m.Called(ctx, prompt)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

func (m *mockClient) Chat(ctx context.Context, messages []Message, options ...GenerateOption) (*Response, error) {
	args := m.Called(ctx, messages)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

func (m *mockClient) Name() string {
	return "mock-model"
}
