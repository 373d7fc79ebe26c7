package repository

import (
	"context"

	"github.com/fyerfyer/sat-parser/internal/models"
)

// ConversionRepository 转换任务仓储接口
// 负责任务状态与分块诊断信息的存储和检索
type ConversionRepository interface {
	// Create 创建任务记录
	Create(ctx context.Context, conv *models.Conversion) error

	// Update 更新任务记录
	Update(ctx context.Context, conv *models.Conversion) error

	// GetByID 根据ID获取任务
	GetByID(ctx context.Context, id string) (*models.Conversion, error)

	// List 分页列出任务，status为空时不过滤
	List(ctx context.Context, offset, limit int, status models.ConversionStatus) ([]*models.Conversion, int64, error)

	// Delete 删除任务及其分块记录
	Delete(ctx context.Context, id string) error

	// UpdateStatus 更新任务状态
	UpdateStatus(ctx context.Context, id string, status models.ConversionStatus, errorMsg string) error

	// UpdateProgress 更新已处理页数和进度
	UpdateProgress(ctx context.Context, id string, pagesDone, totalPages int) error

	// SaveChunk 保存分块结果
	SaveChunk(ctx context.Context, chunk *models.ChunkResult) error

	// GetChunks 按分块顺序获取任务的全部分块结果
	GetChunks(ctx context.Context, id string) ([]*models.ChunkResult, error)
}
