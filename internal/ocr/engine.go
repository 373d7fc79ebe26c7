// Package ocr 图片与整页的文字识别
//
// 两类引擎：本地Tesseract识别普通文字，远程Mathpix识别数学公式。
// Dispatcher按配置的模式和数学符号比例在两者之间选择并处理回退。
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable 引擎不可用（例如缺少凭证）
var ErrUnavailable = errors.New("ocr engine unavailable")

// Engine 识别引擎
type Engine interface {
	// Name 引擎名称，同时用作缓存键的一部分
	Name() string
	// Recognize 识别一张图片，返回纯文本
	Recognize(ctx context.Context, image []byte) (string, error)
}

// ServiceError 识别服务调用失败（重试耗尽或服务端拒绝）
// 调用方应把它当作"没有识别结果"并回退
type ServiceError struct {
	Engine     string
	Attempts   int
	StatusCode int
	Err        error
}

// Error 实现error接口
func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s ocr failed after %d attempt(s) (status %d): %v", e.Engine, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s ocr failed after %d attempt(s): %v", e.Engine, e.Attempts, e.Err)
}

// Unwrap 返回底层错误
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// MathSymbols 数学启发式统计的符号集合
const MathSymbols = `=+-*/^_()[]{}|<>\`

// DefaultMathRatio 符号占比超过该值时视为数学内容
const DefaultMathRatio = 0.2

// MathSymbolRatio 返回文本中数学符号所占的比例
func MathSymbolRatio(text string) float64 {
	total := 0
	symbols := 0
	for _, r := range text {
		total++
		if strings.ContainsRune(MathSymbols, r) {
			symbols++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(symbols) / float64(total)
}

// IsMathHeavy 符号比例是否严格大于ratio
func IsMathHeavy(text string, ratio float64) bool {
	if ratio <= 0 {
		ratio = DefaultMathRatio
	}
	return MathSymbolRatio(text) > ratio
}
