package ocr

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// RasterFunc 按需渲染整页图片，只在需要数学识别时调用
type RasterFunc func(ctx context.Context) ([]byte, error)

// Dispatcher 按模式在文字识别和数学识别之间选择
type Dispatcher struct {
	text   Engine
	math   Engine
	mode   Mode
	ratio  float64
	logger *logrus.Logger
}

// DispatcherOption 调度器选项
type DispatcherOption func(*Dispatcher)

// WithMathRatio 设置数学启发式阈值
func WithMathRatio(ratio float64) DispatcherOption {
	return func(d *Dispatcher) {
		if ratio > 0 {
			d.ratio = ratio
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher 创建调度器，text或math可以为nil（对应能力不可用）
func NewDispatcher(text, math Engine, mode Mode, opts ...DispatcherOption) *Dispatcher {
	if mode == "" {
		mode = ModeHybrid
	}
	d := &Dispatcher{
		text:   text,
		math:   math,
		mode:   mode,
		ratio:  DefaultMathRatio,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mode 返回当前模式
func (d *Dispatcher) Mode() Mode {
	return d.mode
}

// RecognizeImage 识别一张嵌入图片
// 返回空字符串表示没有可用的文字，识别失败不会向上返回错误（上下文取消除外）
func (d *Dispatcher) RecognizeImage(ctx context.Context, image []byte) (string, error) {
	switch d.mode {
	case ModeMath:
		if text, ok := d.tryMath(ctx, image); ok {
			return text, nil
		}
		return d.tryText(ctx, image), ctx.Err()

	case ModeText:
		return d.tryText(ctx, image), ctx.Err()

	default:
		text := d.tryText(ctx, image)
		if text != "" && !IsMathHeavy(text, d.ratio) {
			return text, ctx.Err()
		}
		if math, ok := d.tryMath(ctx, image); ok {
			return math, nil
		}
		return text, ctx.Err()
	}
}

// RecognizePage 得到一页的文字
// extracted是PDF文本层的内容；raster在需要整页识别时才被调用
func (d *Dispatcher) RecognizePage(ctx context.Context, extracted string, raster RasterFunc) (string, error) {
	extracted = strings.TrimSpace(extracted)

	needMath := false
	switch d.mode {
	case ModeMath:
		needMath = true
	case ModeHybrid:
		needMath = extracted == "" || IsMathHeavy(extracted, d.ratio)
	}
	if !needMath || raster == nil {
		return extracted, ctx.Err()
	}

	image, err := raster(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to rasterize page, using extracted text")
		return extracted, ctx.Err()
	}

	if text, ok := d.tryMath(ctx, image); ok {
		return text, nil
	}
	// 没有文本层的扫描页，退回到整页Tesseract
	if extracted == "" {
		return d.tryText(ctx, image), ctx.Err()
	}
	return extracted, ctx.Err()
}

// tryMath 调用数学识别，失败或为空时返回false
func (d *Dispatcher) tryMath(ctx context.Context, image []byte) (string, bool) {
	if d.math == nil || ctx.Err() != nil {
		return "", false
	}
	text, err := d.math.Recognize(ctx, image)
	if err != nil {
		entry := d.logger.WithField("engine", d.math.Name()).WithError(err)
		if errors.Is(err, ErrUnavailable) {
			entry.Debug("Math OCR unavailable, falling back")
		} else {
			entry.Warn("Math OCR failed, falling back")
		}
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

// tryText 调用文字识别，失败时返回空字符串
func (d *Dispatcher) tryText(ctx context.Context, image []byte) string {
	if d.text == nil || ctx.Err() != nil {
		return ""
	}
	text, err := d.text.Recognize(ctx, image)
	if err != nil {
		d.logger.WithField("engine", d.text.Name()).WithError(err).Warn("Text OCR failed")
		return ""
	}
	return strings.TrimSpace(text)
}
