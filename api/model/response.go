package model

import (
	"encoding/json"
	"time"

	"github.com/fyerfyer/sat-parser/internal/models"
	"github.com/fyerfyer/sat-parser/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// ConversionInfo 转换任务信息
type ConversionInfo struct {
	ID           string     `json:"id"`
	FileName     string     `json:"filename"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	PagesDone    int        `json:"pages_done"`
	TotalPages   int        `json:"total_pages"`
	ChunkCount   int        `json:"chunk_count"`
	FailedChunks int        `json:"failed_chunks"`
	RecordCount  int        `json:"record_count"`
	Error        string     `json:"error,omitempty"`
	TaskID       string     `json:"task_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ChunkInfo 分块诊断信息
type ChunkInfo struct {
	Index        int               `json:"index"`
	StartPage    int               `json:"start_page"`
	EndPage      int               `json:"end_page"`
	RecordCount  int               `json:"record_count"`
	Attempts     int               `json:"attempts"`
	DurationMS   int64             `json:"duration_ms"`
	Error        string            `json:"error,omitempty"`
	RawReply     string            `json:"raw_reply,omitempty"`
	CleanedReply string            `json:"cleaned_reply,omitempty"`
	ImagePaths   map[string]string `json:"image_paths,omitempty"`
	SkippedPages []int             `json:"skipped_pages,omitempty"` // 读取失败的页码
}

// ConversionDetailResponse 任务详情
type ConversionDetailResponse struct {
	ConversionInfo
	Chunks []ChunkInfo          `json:"chunks"`
	Task   *taskqueue.TaskInfo `json:"task,omitempty"` // 队列任务状态，未使用队列时为空
}

// ConversionListResponse 任务列表
type ConversionListResponse struct {
	Total       int64            `json:"total"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
	Conversions []ConversionInfo `json:"conversions"`
}

// ConversionDeleteResponse 删除结果
type ConversionDeleteResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// NewConversionInfo 转换为响应结构
func NewConversionInfo(c *models.Conversion) ConversionInfo {
	return ConversionInfo{
		ID:           c.ID,
		FileName:     c.FileName,
		Status:       string(c.Status),
		Progress:     c.Progress,
		PagesDone:    c.PagesDone,
		TotalPages:   c.TotalPages,
		ChunkCount:   c.ChunkCount,
		FailedChunks: c.FailedChunks,
		RecordCount:  c.RecordCount,
		Error:        c.Error,
		TaskID:       c.TaskID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		CompletedAt:  c.CompletedAt,
	}
}

// NewChunkInfos 转换分块结果
func NewChunkInfos(chunks []*models.ChunkResult) []ChunkInfo {
	infos := make([]ChunkInfo, 0, len(chunks))
	for _, ch := range chunks {
		info := ChunkInfo{
			Index:        ch.ChunkIndex,
			StartPage:    ch.StartPage,
			EndPage:      ch.EndPage,
			RecordCount:  ch.RecordCount,
			Attempts:     ch.Attempts,
			DurationMS:   ch.DurationMS,
			Error:        ch.Error,
			RawReply:     ch.RawReply,
			CleanedReply: ch.CleanedReply,
		}
		if len(ch.ImagePaths) > 0 {
			_ = json.Unmarshal(ch.ImagePaths, &info.ImagePaths)
		}
		if len(ch.SkippedPages) > 0 {
			_ = json.Unmarshal(ch.SkippedPages, &info.SkippedPages)
		}
		infos = append(infos, info)
	}
	return infos
}
