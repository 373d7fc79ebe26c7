package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/sat-parser/internal/llm"
	"github.com/fyerfyer/sat-parser/internal/ocr"
)

// buildPDF 生成每页一段文字的PDF
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	for _, text := range pages {
		pdf.AddPage()
		pdf.MultiCell(0, 10, text, "", "", false)
	}
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// passthroughRecognizer 直接返回文本层内容
type passthroughRecognizer struct{}

func (passthroughRecognizer) RecognizeImage(context.Context, []byte) (string, error) {
	return "", nil
}

func (passthroughRecognizer) RecognizePage(_ context.Context, extracted string, _ ocr.RasterFunc) (string, error) {
	return extracted, nil
}

// scriptedStructurer 第n次调用失败时返回StructuringError，否则返回一道题
type scriptedStructurer struct {
	mu      sync.Mutex
	calls   int
	failOn  map[int]bool
	prompts []string
}

func (s *scriptedStructurer) Structure(_ context.Context, prompt string) ([]map[string]any, *llm.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, prompt)

	if s.failOn[s.calls] {
		attempt := &llm.Attempt{Number: 3, RawReply: "sorry, no json", CleanedReply: "sorry, no json"}
		return nil, attempt, &llm.StructuringError{
			Attempts:     3,
			RawReply:     attempt.RawReply,
			CleanedReply: attempt.CleanedReply,
			Cause:        fmt.Errorf("recovery failed"),
		}
	}
	return []map[string]any{{
		"question_id":    fmt.Sprintf("q%d", s.calls),
		"question_text":  "Which choice is correct?",
		"options":        []any{map[string]any{"label": "A", "text": "one"}, map[string]any{"label": "B", "text": "two"}},
		"correct_answer": "A",
	}}, &llm.Attempt{Number: 1, RawReply: "{}"}, nil
}

func boolPtr(b bool) *bool {
	return &b
}

func newTestPipeline(s Structurer, cfg PipelineConfig) *Pipeline {
	if cfg.Rasterize == nil {
		cfg.Rasterize = boolPtr(false)
	}
	return NewPipeline(cfg, passthroughRecognizer{}, s, nil, WithPipelineLogger(quietLogger()))
}
