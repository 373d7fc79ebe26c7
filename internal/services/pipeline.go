package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fyerfyer/sat-parser/internal/chunk"
	"github.com/fyerfyer/sat-parser/internal/document"
	"github.com/fyerfyer/sat-parser/internal/llm"
	"github.com/fyerfyer/sat-parser/internal/prompt"
	"github.com/fyerfyer/sat-parser/internal/record"
	"github.com/fyerfyer/sat-parser/pkg/storage"
)

// Structurer 把提示词转换为题目对象，由llm.Structurer实现
type Structurer interface {
	Structure(ctx context.Context, prompt string) ([]map[string]any, *llm.Attempt, error)
}

// PipelineConfig 流水线参数
type PipelineConfig struct {
	ChunkSize     int           // 每块页数
	RenderDPI     int           // 整页渲染分辨率
	ChunkCooldown time.Duration // 两个分块之间的最小间隔
	ImagePrefix   string        // 图片文件名前缀
	CleanupImages bool          // 结束后删除保存的图片
	Rasterize     *bool         // 为nil时自动检测渲染命令
}

// ChunkReport 单个分块的处理结果
type ChunkReport struct {
	Index        int
	Range        document.PageRange
	Records      int
	Attempts     int
	Duration     time.Duration
	Err          error
	RawReply     string
	CleanedReply string
	ImagePaths   map[string]string
	FileIDs      []string
	Skipped      []int // 读取失败的页码，从0开始
}

// Failed 分块是否失败
func (r *ChunkReport) Failed() bool {
	return r.Err != nil
}

// RunResult 一次转换的结果
type RunResult struct {
	Source     string
	TotalPages int
	Records    []record.QuestionRecord
	Chunks     []ChunkReport
}

// FailedChunks 失败的分块数量
func (r *RunResult) FailedChunks() int {
	n := 0
	for i := range r.Chunks {
		if r.Chunks[i].Failed() {
			n++
		}
	}
	return n
}

// Pipeline 把一个PDF逐块转换为题目记录
// 分块严格串行处理，一个分块失败不影响后续分块
type Pipeline struct {
	cfg        PipelineConfig
	recognizer chunk.Recognizer
	structurer Structurer
	store      storage.Storage
	builder    *prompt.Builder
	assembler  *record.Assembler
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// PipelineOption 流水线配置项
type PipelineOption func(*Pipeline)

// WithPipelineLogger 设置日志记录器
func WithPipelineLogger(logger *logrus.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline 创建流水线
func NewPipeline(cfg PipelineConfig, recognizer chunk.Recognizer, structurer Structurer, store storage.Storage, opts ...PipelineOption) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = document.DefaultChunkSize
	}
	if cfg.ImagePrefix == "" {
		cfg.ImagePrefix = "q"
	}

	p := &Pipeline{
		cfg:        cfg,
		recognizer: recognizer,
		structurer: structurer,
		store:      store,
		builder:    prompt.NewBuilder(),
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.assembler = record.NewAssembler(p.logger)
	if cfg.ChunkCooldown > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.ChunkCooldown), 1)
	}
	return p
}

// ProgressFunc 进度回调，参数为已处理页数和总页数
type ProgressFunc func(done, total int)

// runOptions 单次运行的回调
type runOptions struct {
	progress ProgressFunc
	onChunk  func(ChunkReport)
}

// RunOption 单次运行配置项
type RunOption func(*runOptions)

// WithProgress 设置进度回调
func WithProgress(fn ProgressFunc) RunOption {
	return func(o *runOptions) {
		o.progress = fn
	}
}

// WithChunkObserver 每个分块结束后回调
func WithChunkObserver(fn func(ChunkReport)) RunOption {
	return func(o *runOptions) {
		o.onChunk = fn
	}
}

// Run 转换内存中的PDF
// 文档无法打开时返回*document.DocumentOpenError；ctx取消只在分块之间生效
func (p *Pipeline) Run(ctx context.Context, data []byte, name string, opts ...RunOption) (*RunResult, error) {
	doc, err := document.Open(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	return p.run(ctx, doc, name, opts...)
}

// RunFile 转换磁盘上的PDF
func (p *Pipeline) RunFile(ctx context.Context, path string, opts ...RunOption) (*RunResult, error) {
	doc, err := document.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	return p.run(ctx, doc, path, opts...)
}

func (p *Pipeline) run(ctx context.Context, doc chunk.Source, name string, opts ...RunOption) (*RunResult, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	chunkOpts := []chunk.Option{
		chunk.WithChunkSize(p.cfg.ChunkSize),
		chunk.WithDPI(p.cfg.RenderDPI),
		chunk.WithName(p.cfg.ImagePrefix),
		chunk.WithLogger(p.logger),
	}
	if p.cfg.Rasterize != nil {
		chunkOpts = append(chunkOpts, chunk.WithRasterizer(*p.cfg.Rasterize))
	}
	asm := chunk.NewAssembler(doc, p.recognizer, p.store, chunkOpts...)

	result := &RunResult{Source: name, TotalPages: doc.PageCount()}
	table := record.NewTable()
	start := time.Now()

	p.logger.WithFields(logrus.Fields{
		"source": name,
		"pages":  result.TotalPages,
		"chunks": asm.Total(),
	}).Info("Starting conversion")

	if p.cfg.CleanupImages {
		defer p.cleanup(result)
	}

	done := 0
	for {
		if err := ctx.Err(); err != nil {
			result.Records = table.Records()
			return result, err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				result.Records = table.Records()
				return result, err
			}
		}

		// 分块内部不响应取消
		chunkCtx := context.WithoutCancel(ctx)
		payload, err := asm.Next(chunkCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Records = table.Records()
			return result, fmt.Errorf("failed to assemble chunk: %w", err)
		}

		report := p.processChunk(chunkCtx, payload, table)
		result.Chunks = append(result.Chunks, report)

		done += payload.Pages()
		if ro.progress != nil {
			ro.progress(done, result.TotalPages)
		}
		if ro.onChunk != nil {
			ro.onChunk(report)
		}
	}

	result.Records = table.Records()
	p.logger.WithFields(logrus.Fields{
		"source":        name,
		"records":       len(result.Records),
		"failed_chunks": result.FailedChunks(),
		"duration":      time.Since(start).String(),
	}).Info("Conversion finished")
	return result, nil
}

// processChunk 处理一个分块，失败只记录在报告中
func (p *Pipeline) processChunk(ctx context.Context, payload *chunk.Payload, table *record.Table) ChunkReport {
	report := ChunkReport{
		Index:      payload.Index,
		Range:      payload.Range,
		ImagePaths: payload.ImagePaths,
		FileIDs:    payload.FileIDs,
		Skipped:    payload.Skipped,
	}
	entry := p.logger.WithFields(logrus.Fields{
		"chunk": fmt.Sprintf("%d/%d", payload.Index+1, payload.Total),
		"pages": payload.Range.String(),
	})

	instruction, err := p.builder.Build(payload)
	if errors.Is(err, prompt.ErrEmptyPayload) {
		entry.WithField("skipped_pages", len(payload.Skipped)).Info("Chunk has no text, skipping model call")
		return report
	}
	if err != nil {
		report.Err = err
		entry.WithError(err).Error("Failed to build prompt")
		return report
	}

	questions, attempt, err := p.structurer.Structure(ctx, instruction)
	if attempt != nil {
		report.Attempts = attempt.Number
		report.Duration = attempt.Duration
		report.RawReply = attempt.RawReply
		report.CleanedReply = attempt.CleanedReply
	}
	if err != nil {
		report.Err = err
		entry.WithError(err).WithFields(logrus.Fields{
			"attempts":      report.Attempts,
			"raw_reply":     report.RawReply,
			"cleaned_reply": report.CleanedReply,
		}).Error("Chunk produced no records")
		return report
	}

	records := p.assembler.Assemble(questions, payload.ImagePaths)
	table.Append(records...)
	report.Records = len(records)

	entry.WithFields(logrus.Fields{
		"records":  report.Records,
		"attempts": report.Attempts,
	}).Info("Chunk structured")
	return report
}

// cleanup 删除本次保存的图片
func (p *Pipeline) cleanup(result *RunResult) {
	if p.store == nil {
		return
	}
	ctx := context.Background()
	for _, c := range result.Chunks {
		for _, id := range c.FileIDs {
			if err := p.store.Delete(ctx, id); err != nil {
				p.logger.WithField("file_id", id).WithError(err).Warn("Failed to delete image")
			}
		}
	}
}
