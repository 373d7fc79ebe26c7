package models

import "errors"

var (
	// ErrConversionNotFound 转换任务不存在
	ErrConversionNotFound = errors.New("conversion not found")

	// ErrInvalidStatus 无效的状态转换
	ErrInvalidStatus = errors.New("invalid conversion status")

	// ErrOutputNotReady 结果文件尚未生成
	ErrOutputNotReady = errors.New("conversion output not ready")
)
