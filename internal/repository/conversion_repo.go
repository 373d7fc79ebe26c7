package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fyerfyer/sat-parser/internal/database"
	"github.com/fyerfyer/sat-parser/internal/models"
)

// conversionRepository 转换任务仓储实现
type conversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository 使用全局数据库连接创建仓储
func NewConversionRepository() ConversionRepository {
	return &conversionRepository{db: database.MustDB()}
}

// NewConversionRepositoryWithDB 使用指定的数据库连接创建仓储
func NewConversionRepositoryWithDB(db *gorm.DB) ConversionRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &conversionRepository{db: db}
}

// Create 创建任务记录
func (r *conversionRepository) Create(ctx context.Context, conv *models.Conversion) error {
	if conv.ID == "" {
		return errors.New("conversion ID cannot be empty")
	}
	return r.db.WithContext(ctx).Create(conv).Error
}

// Update 更新任务记录
func (r *conversionRepository) Update(ctx context.Context, conv *models.Conversion) error {
	if conv.ID == "" {
		return errors.New("conversion ID cannot be empty")
	}
	return r.db.WithContext(ctx).Save(conv).Error
}

// GetByID 根据ID获取任务
func (r *conversionRepository) GetByID(ctx context.Context, id string) (*models.Conversion, error) {
	var conv models.Conversion
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrConversionNotFound, id)
		}
		return nil, err
	}
	return &conv, nil
}

// List 分页列出任务，按创建时间倒序
func (r *conversionRepository) List(ctx context.Context, offset, limit int, status models.ConversionStatus) ([]*models.Conversion, int64, error) {
	var convs []*models.Conversion
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Conversion{})
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	if err := query.Order("created_at DESC").Find(&convs).Error; err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

// Delete 删除任务及其分块记录
func (r *conversionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversion_id = ?", id).Delete(&models.ChunkResult{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Conversion{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", models.ErrConversionNotFound, id)
		}
		return nil
	})
}

// UpdateStatus 更新任务状态，结束状态同时写入完成时间
func (r *conversionRepository) UpdateStatus(ctx context.Context, id string, status models.ConversionStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"error":      errorMsg,
		"updated_at": time.Now(),
	}
	if status == models.ConvStatusCompleted || status == models.ConvStatusFailed {
		updates["completed_at"] = time.Now()
	}
	if status == models.ConvStatusCompleted {
		updates["progress"] = 100
	}
	return r.updates(ctx, id, updates)
}

// UpdateProgress 更新已处理页数和百分比进度
func (r *conversionRepository) UpdateProgress(ctx context.Context, id string, pagesDone, totalPages int) error {
	if pagesDone < 0 || totalPages < 0 || pagesDone > totalPages {
		return fmt.Errorf("invalid progress: %d/%d", pagesDone, totalPages)
	}
	progress := 0
	if totalPages > 0 {
		progress = pagesDone * 100 / totalPages
	}
	return r.updates(ctx, id, map[string]interface{}{
		"pages_done":  pagesDone,
		"total_pages": totalPages,
		"progress":    progress,
		"updated_at":  time.Now(),
	})
}

func (r *conversionRepository) updates(ctx context.Context, id string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Conversion{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrConversionNotFound, id)
	}
	return nil
}

// SaveChunk 保存分块结果
func (r *conversionRepository) SaveChunk(ctx context.Context, chunk *models.ChunkResult) error {
	if chunk.ConversionID == "" {
		return errors.New("conversion ID cannot be empty")
	}
	return r.db.WithContext(ctx).Create(chunk).Error
}

// GetChunks 获取任务的全部分块结果
func (r *conversionRepository) GetChunks(ctx context.Context, id string) ([]*models.ChunkResult, error) {
	var chunks []*models.ChunkResult
	err := r.db.WithContext(ctx).
		Where("conversion_id = ?", id).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
