package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskConvert PDF转CSV任务
	TaskConvert TaskType = "conversion:convert"
	// TaskCleanup 清理转换产生的中间文件
	TaskCleanup TaskType = "conversion:cleanup"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID           string          `json:"id"`            // 任务唯一标识符
	Type         TaskType        `json:"type"`          // 任务类型
	ConversionID string          `json:"conversion_id"` // 关联的转换任务ID
	Status       TaskStatus      `json:"status"`        // 任务状态
	Payload      json.RawMessage `json:"payload"`       // 任务载荷
	Result       json.RawMessage `json:"result"`        // 任务结果
	Error        string          `json:"error"`         // 错误信息（如果处理失败）
	CreatedAt    time.Time       `json:"created_at"`    // 创建时间
	UpdatedAt    time.Time       `json:"updated_at"`    // 更新时间
	StartedAt    *time.Time      `json:"started_at"`    // 开始处理时间
	CompletedAt  *time.Time      `json:"completed_at"`  // 完成时间
	Attempts     int             `json:"attempts"`      // 尝试次数
	MaxRetries   int             `json:"max_retries"`   // 最大重试次数
}

// ConvertPayload 转换任务载荷
type ConvertPayload struct {
	ConversionID string `json:"conversion_id"` // 转换任务ID
	FileID       string `json:"file_id"`       // PDF在存储中的ID
	FileName     string `json:"file_name"`     // 原始文件名
}

// ConvertResult 转换任务结果
type ConvertResult struct {
	ConversionID string `json:"conversion_id"` // 转换任务ID
	RecordCount  int    `json:"record_count"`  // 题目数量
	ChunkCount   int    `json:"chunk_count"`   // 分块数量
	FailedChunks int    `json:"failed_chunks"` // 失败的分块数量
	OutputID     string `json:"output_id"`     // CSV在存储中的ID
}

// CleanupPayload 清理任务载荷
type CleanupPayload struct {
	ConversionID string   `json:"conversion_id"` // 转换任务ID
	FileIDs      []string `json:"file_ids"`      // 待删除的文件ID
}
