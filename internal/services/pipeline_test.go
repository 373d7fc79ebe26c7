package services

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/sat-parser/internal/chunk"
	"github.com/fyerfyer/sat-parser/internal/document"
	"github.com/fyerfyer/sat-parser/internal/llm"
	"github.com/fyerfyer/sat-parser/internal/record"
)

func TestPipelineRun(t *testing.T) {
	data := buildPDF(t, "Question ID a1", "Question ID a2", "Question ID a3")
	s := &scriptedStructurer{failOn: map[int]bool{2: true}}
	p := newTestPipeline(s, PipelineConfig{ChunkSize: 1})

	var progress [][2]int
	var observed []int
	result, err := p.Run(context.Background(), data, "practice.pdf",
		WithProgress(func(done, total int) {
			progress = append(progress, [2]int{done, total})
		}),
		WithChunkObserver(func(r ChunkReport) {
			observed = append(observed, r.Index)
		}))
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalPages)
	require.Len(t, result.Chunks, 3)
	assert.Equal(t, 1, result.FailedChunks())
	assert.Equal(t, []int{0, 1, 2}, observed)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)

	t.Run("failed chunk keeps diagnostics", func(t *testing.T) {
		failed := result.Chunks[1]
		assert.True(t, failed.Failed())
		assert.Equal(t, 0, failed.Records)
		assert.Equal(t, 3, failed.Attempts)
		assert.Equal(t, "sorry, no json", failed.RawReply)

		var structErr *llm.StructuringError
		assert.True(t, errors.As(failed.Err, &structErr))
	})

	t.Run("later chunks still processed", func(t *testing.T) {
		require.Len(t, result.Records, 2)
		assert.Equal(t, "q1", result.Records[0].QuestionID)
		assert.Equal(t, "q3", result.Records[1].QuestionID)
		assert.Equal(t, "A: one; B: two", result.Records[0].ChoicesString())
		assert.Equal(t, record.NotSpecified, result.Records[0].Domain)
	})

	t.Run("prompt carries page text", func(t *testing.T) {
		require.Len(t, s.prompts, 3)
		assert.Contains(t, s.prompts[0], "=== PAGE 1 ===")
		assert.Contains(t, s.prompts[2], "=== PAGE 3 ===")
	})
}

func TestPipelineInvalidDocument(t *testing.T) {
	p := newTestPipeline(&scriptedStructurer{}, PipelineConfig{})

	_, err := p.Run(context.Background(), []byte("not a pdf"), "bad.pdf")
	var openErr *document.DocumentOpenError
	assert.True(t, errors.As(err, &openErr))
}

func TestPipelineCancelledBetweenChunks(t *testing.T) {
	data := buildPDF(t, "Question ID a1", "Question ID a2")
	s := &scriptedStructurer{}
	p := newTestPipeline(s, PipelineConfig{ChunkSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	result, err := p.Run(ctx, data, "practice.pdf", WithChunkObserver(func(ChunkReport) {
		cancel()
	}))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Len(t, result.Chunks, 1)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 1, s.calls)
}

func TestPipelineChunkCooldown(t *testing.T) {
	data := buildPDF(t, "Question ID a1", "Question ID a2", "Question ID a3")
	p := newTestPipeline(&scriptedStructurer{}, PipelineConfig{ChunkSize: 1, ChunkCooldown: 30 * time.Millisecond})

	start := time.Now()
	_, err := p.Run(context.Background(), data, "practice.pdf")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestPipelineTwoDocumentsIntoOneCSV(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.csv")
	s := &scriptedStructurer{}
	p := newTestPipeline(s, PipelineConfig{ChunkSize: 2})

	first, err := p.Run(context.Background(), buildPDF(t, "A", "B", "C"), "first.pdf")
	require.NoError(t, err)
	require.NoError(t, record.AppendCSV(out, first.Records, quietLogger()))

	second, err := p.Run(context.Background(), buildPDF(t, "D"), "second.pdf")
	require.NoError(t, err)
	require.NoError(t, record.AppendCSV(out, second.Records, quietLogger()))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 1+len(first.Records)+len(second.Records))
	assert.Equal(t, strings.Join(record.Columns, ","), strings.Join(rows[0], ","))
	assert.Equal(t, []string{"q1", "q2", "q3"}, []string{rows[1][0], rows[2][0], rows[3][0]})
}

func TestPipelineRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, buildPDF(t, "Question ID z9"), 0644))

	result, err := newTestPipeline(&scriptedStructurer{}, PipelineConfig{}).RunFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, path, result.Source)
}

func TestPipelineBlankChunkSkipsModel(t *testing.T) {
	s := &scriptedStructurer{failOn: map[int]bool{}}
	p := newTestPipeline(s, PipelineConfig{})

	payload := &chunk.Payload{
		Index:   0,
		Total:   1,
		Range:   document.PageRange{Start: 0, End: 4},
		Text:    "=== PAGE 1 ===\n\n=== PAGE 2 ===\n\n=== PAGE 4 ===",
		Skipped: []int{2},
		Blank:   true,
	}
	table := record.NewTable()
	report := p.processChunk(context.Background(), payload, table)

	assert.False(t, report.Failed())
	assert.Equal(t, 0, report.Records)
	assert.Equal(t, []int{2}, report.Skipped)
	assert.Empty(t, s.prompts)
	assert.Equal(t, 0, table.Len())

	t.Run("skipped pages persisted one-based", func(t *testing.T) {
		m := chunkModel("conv", report)
		assert.JSONEq(t, `[3]`, string(m.SkippedPages))
		assert.Equal(t, 1, m.StartPage)
		assert.Equal(t, 4, m.EndPage)
	})
}
