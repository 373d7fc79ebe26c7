package ocr

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine 基于gosseract的本地文字识别
// gosseract客户端不是并发安全的，每次识别创建独立的客户端
type TesseractEngine struct {
	languages []string
}

// NewTesseractEngine 创建Tesseract引擎，languages为空时使用eng
func NewTesseractEngine(languages ...string) *TesseractEngine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractEngine{languages: languages}
}

// Name 返回引擎名称
func (e *TesseractEngine) Name() string {
	return "tesseract"
}

// Recognize 识别图片中的文字
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.languages...); err != nil {
		return "", &ServiceError{Engine: e.Name(), Attempts: 1, Err: err}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", &ServiceError{Engine: e.Name(), Attempts: 1, Err: err}
	}

	text, err := client.Text()
	if err != nil {
		return "", &ServiceError{Engine: e.Name(), Attempts: 1, Err: err}
	}
	return strings.TrimSpace(text), nil
}
