package llm

import (
	"context"
	"errors"
	"time"

	"github.com/fyerfyer/sat-parser/internal/reply"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Attempt 一次结构化请求的记录
type Attempt struct {
	Number       int           // 第几次尝试，从1开始
	RawReply     string        // 模型原始回复
	CleanedReply string        // 清理后的JSON候选
	Duration     time.Duration // 请求耗时
	Err          error         // 本次失败原因
}

// Structurer 发送提示词并把回复解析为题目对象
// 请求失败或回复无法恢复时用同一提示词重试
type Structurer struct {
	client      Client
	maxAttempts int
	backoffBase time.Duration
	limiter     *rate.Limiter
	logger      *logrus.Logger
}

// StructurerOption 选项
type StructurerOption func(*Structurer)

// WithMaxAttempts 设置总尝试次数
func WithMaxAttempts(n int) StructurerOption {
	return func(s *Structurer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoffBase 第n次重试前等待 base * 2^(n-1)
func WithBackoffBase(base time.Duration) StructurerOption {
	return func(s *Structurer) {
		if base >= 0 {
			s.backoffBase = base
		}
	}
}

// WithLimiter 设置请求间隔限流器，每次请求（包括重试）前等待
func WithLimiter(l *rate.Limiter) StructurerOption {
	return func(s *Structurer) {
		s.limiter = l
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) StructurerOption {
	return func(s *Structurer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStructurer 创建结构化器
func NewStructurer(client Client, opts ...StructurerOption) *Structurer {
	s := &Structurer{
		client:      client,
		maxAttempts: 3,
		backoffBase: time.Second,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Structure 返回题目对象列表以及最后一次尝试的记录
// 重试耗尽时返回*StructuringError
func (s *Structurer) Structure(ctx context.Context, prompt string) ([]map[string]any, *Attempt, error) {
	var last *Attempt

	for n := 1; n <= s.maxAttempts; n++ {
		if n > 1 {
			if err := s.backoff(ctx, n-1); err != nil {
				return nil, last, err
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, last, err
			}
		}

		attempt, questions := s.attempt(ctx, n, prompt)
		last = attempt
		if attempt.Err == nil {
			return questions, attempt, nil
		}

		entry := s.logger.WithFields(logrus.Fields{
			"model":   s.client.Name(),
			"attempt": n,
		}).WithError(attempt.Err)
		if attempt.RawReply != "" {
			entry = entry.WithFields(logrus.Fields{
				"raw_reply":     attempt.RawReply,
				"cleaned_reply": attempt.CleanedReply,
			})
		}
		entry.Warn("Structuring attempt failed")

		if ctx.Err() != nil {
			return nil, last, ctx.Err()
		}
		var llmErr LLMError
		if errors.As(attempt.Err, &llmErr) && !llmErr.Retryable() {
			break
		}
	}

	return nil, last, &StructuringError{
		Attempts:     last.Number,
		RawReply:     last.RawReply,
		CleanedReply: last.CleanedReply,
		Cause:        last.Err,
	}
}

func (s *Structurer) attempt(ctx context.Context, n int, prompt string) (*Attempt, []map[string]any) {
	start := time.Now()
	attempt := &Attempt{Number: n}

	resp, err := s.client.Generate(ctx, prompt)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Err = err
		return attempt, nil
	}

	attempt.RawReply = resp.Text
	attempt.CleanedReply = reply.Clean(resp.Text)
	questions, err := reply.Parse(resp.Text)
	if err != nil {
		attempt.Err = err
		return attempt, nil
	}
	return attempt, questions
}

func (s *Structurer) backoff(ctx context.Context, retry int) error {
	wait := s.backoffBase * time.Duration(1<<(retry-1))
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
