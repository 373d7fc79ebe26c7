package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversionStatus 转换任务状态
type ConversionStatus string

const (
	// ConvStatusPending 已提交，等待处理
	ConvStatusPending ConversionStatus = "pending"
	// ConvStatusProcessing 处理中
	ConvStatusProcessing ConversionStatus = "processing"
	// ConvStatusCompleted 处理完成，部分分块失败也视为完成
	ConvStatusCompleted ConversionStatus = "completed"
	// ConvStatusFailed 整个文档处理失败
	ConvStatusFailed ConversionStatus = "failed"
)

// Conversion 一次PDF转CSV的任务
type Conversion struct {
	ID           string           `gorm:"primaryKey"`         // 任务ID
	FileName     string           `gorm:"not null"`           // 上传的文件名
	FileID       string           `gorm:"size:64;not null"`   // PDF在存储中的ID
	FileSize     int64            `gorm:"not null"`           // 文件大小（字节）
	Status       ConversionStatus `gorm:"not null;index"`     // 状态
	Progress     int              `gorm:"not null;default:0"` // 进度（0-100）
	PagesDone    int              `gorm:"not null;default:0"` // 已处理页数
	TotalPages   int              `gorm:"not null;default:0"` // 总页数
	ChunkCount   int              `gorm:"not null;default:0"` // 分块数量
	FailedChunks int              `gorm:"not null;default:0"` // 失败的分块数量
	RecordCount  int              `gorm:"not null;default:0"` // 产出的题目数量
	OutputID     string           `gorm:"size:64"`            // CSV在存储中的ID
	PreviewID    string           `gorm:"size:64"`            // HTML预览在存储中的ID
	Error        string           `gorm:"type:text"`          // 错误信息
	TaskID       string           `gorm:"size:50;index"`      // 队列任务ID
	Options      datatypes.JSON   `gorm:"type:json"`          // 提交时的参数
	CreatedAt    time.Time        `gorm:"not null;index"`     // 创建时间
	UpdatedAt    time.Time        `gorm:"not null"`           // 更新时间
	CompletedAt  *time.Time       `gorm:"index"`              // 完成时间
}

// BeforeCreate GORM钩子，设置创建时间
func (c *Conversion) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM钩子，设置更新时间
func (c *Conversion) BeforeUpdate(tx *gorm.DB) (err error) {
	c.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Conversion) TableName() string {
	return "conversions"
}

// Finished 是否已经结束
func (c *Conversion) Finished() bool {
	return c.Status == ConvStatusCompleted || c.Status == ConvStatusFailed
}

// ChunkResult 单个分块的处理结果，失败时保留模型回复用于排查
type ChunkResult struct {
	ID           uint           `gorm:"primaryKey;autoIncrement"`
	ConversionID string         `gorm:"not null;index"`     // 所属任务ID
	ChunkIndex   int            `gorm:"not null"`           // 分块序号，从0开始
	StartPage    int            `gorm:"not null"`           // 起始页，从1开始
	EndPage      int            `gorm:"not null"`           // 结束页，包含
	RecordCount  int            `gorm:"not null;default:0"` // 产出的题目数量
	Attempts     int            `gorm:"not null;default:0"` // 请求次数
	DurationMS   int64          `gorm:"not null;default:0"` // 最后一次请求耗时
	Error        string         `gorm:"type:text"`          // 失败原因
	RawReply     string         `gorm:"type:text"`          // 最后一次原始回复
	CleanedReply string         `gorm:"type:text"`          // 最后一次清理后的回复
	ImagePaths   datatypes.JSON `gorm:"type:json"`          // 图片标记到保存位置
	SkippedPages datatypes.JSON `gorm:"type:json"`          // 读取失败的页码，从1开始
	CreatedAt    time.Time      `gorm:"not null"`
}

// BeforeCreate GORM钩子，设置创建时间
func (r *ChunkResult) BeforeCreate(tx *gorm.DB) (err error) {
	r.CreatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (ChunkResult) TableName() string {
	return "chunk_results"
}

// Failed 分块是否失败
func (r *ChunkResult) Failed() bool {
	return r.Error != ""
}
