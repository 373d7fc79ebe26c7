package ocr

import (
	"fmt"
	"strings"
)

// Mode 识别模式
type Mode string

const (
	// ModeText 只对嵌入图片做Tesseract识别
	ModeText Mode = "text"
	// ModeMath 每页和每张图片都交给数学识别
	ModeMath Mode = "math"
	// ModeHybrid 按数学符号比例决定是否使用数学识别
	ModeHybrid Mode = "hybrid"
)

// ParseMode 解析配置中的模式字符串，空字符串返回ModeHybrid
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHybrid, nil
	case ModeText, ModeMath, ModeHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("unknown ocr mode %q", s)
	}
}
