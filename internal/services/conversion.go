package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/fyerfyer/sat-parser/internal/models"
	"github.com/fyerfyer/sat-parser/internal/record"
	"github.com/fyerfyer/sat-parser/internal/repository"
	"github.com/fyerfyer/sat-parser/pkg/storage"
	"github.com/fyerfyer/sat-parser/pkg/taskqueue"
)

// ErrUnsupportedFile 上传的不是PDF
var ErrUnsupportedFile = errors.New("only pdf files are supported")

// Converter 执行一次转换，由*Pipeline实现
type Converter interface {
	Run(ctx context.Context, data []byte, name string, opts ...RunOption) (*RunResult, error)
}

// ConversionService 转换任务服务
// 负责保存上传文件、调度转换、记录进度与分块诊断、保存结果
type ConversionService struct {
	converter Converter
	storage   storage.Storage
	repo      repository.ConversionRepository
	taskQueue taskqueue.Queue
	timeout   time.Duration
	logger    *logrus.Logger
	mu        sync.Mutex // 保证状态转换的原子性
	wg        sync.WaitGroup
}

// ConversionOption 服务配置项
type ConversionOption func(*ConversionService)

// WithTaskQueue 通过任务队列执行转换；未设置时在后台goroutine中执行
func WithTaskQueue(queue taskqueue.Queue) ConversionOption {
	return func(s *ConversionService) {
		s.taskQueue = queue
	}
}

// WithTimeout 设置单次转换的超时时间
func WithTimeout(timeout time.Duration) ConversionOption {
	return func(s *ConversionService) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) ConversionOption {
	return func(s *ConversionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewConversionService 创建转换服务
func NewConversionService(converter Converter, store storage.Storage, repo repository.ConversionRepository, opts ...ConversionOption) *ConversionService {
	s := &ConversionService{
		converter: converter,
		storage:   store,
		repo:      repo,
		timeout:   2 * time.Hour,
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit 保存上传的PDF并创建转换任务
func (s *ConversionService) Submit(ctx context.Context, reader io.Reader, fileName string) (*models.Conversion, error) {
	if !strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return nil, ErrUnsupportedFile
	}

	info, err := s.storage.Save(ctx, reader, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	conv := &models.Conversion{
		ID:       uuid.New().String(),
		FileName: fileName,
		FileID:   info.ID,
		FileSize: info.Size,
		Status:   models.ConvStatusPending,
	}
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversion: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"conversion_id": conv.ID,
		"file_name":     fileName,
		"size":          info.Size,
	}).Info("Conversion submitted")

	if s.taskQueue != nil {
		taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskConvert, conv.ID, &taskqueue.ConvertPayload{
			ConversionID: conv.ID,
			FileID:       conv.FileID,
			FileName:     conv.FileName,
		}, taskqueue.WithTimeout(s.timeout))
		if err != nil {
			s.fail(ctx, conv.ID, fmt.Sprintf("failed to enqueue conversion: %v", err))
			return nil, fmt.Errorf("failed to enqueue conversion: %w", err)
		}
		conv.TaskID = taskID
		if err := s.repo.Update(ctx, conv); err != nil {
			s.logger.WithError(err).Warn("Failed to record task id")
		}
		return conv, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Execute(context.Background(), conv.ID); err != nil {
			s.logger.WithField("conversion_id", conv.ID).WithError(err).Error("Conversion failed")
		}
	}()
	return conv, nil
}

// Wait 等待后台执行的转换结束
func (s *ConversionService) Wait() {
	s.wg.Wait()
}

// Get 获取任务及其分块结果
func (s *ConversionService) Get(ctx context.Context, id string) (*models.Conversion, []*models.ChunkResult, error) {
	conv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.repo.GetChunks(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, chunks, nil
}

// List 分页列出任务
func (s *ConversionService) List(ctx context.Context, offset, limit int, status models.ConversionStatus) ([]*models.Conversion, int64, error) {
	return s.repo.List(ctx, offset, limit, status)
}

// Execute 执行转换，已结束的任务直接返回
func (s *ConversionService) Execute(ctx context.Context, id string) error {
	conv, err := s.markProcessing(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.readFile(ctx, conv.FileID)
	if err != nil {
		s.fail(ctx, id, err.Error())
		return err
	}

	result, err := s.converter.Run(ctx, data, conv.FileName,
		WithProgress(func(done, total int) {
			if err := s.repo.UpdateProgress(ctx, id, done, total); err != nil {
				s.logger.WithError(err).Warn("Failed to update progress")
			}
		}),
		WithChunkObserver(func(report ChunkReport) {
			if err := s.repo.SaveChunk(ctx, chunkModel(id, report)); err != nil {
				s.logger.WithError(err).Warn("Failed to save chunk result")
			}
		}),
	)
	if err != nil {
		s.fail(ctx, id, err.Error())
		return fmt.Errorf("conversion %s failed: %w", id, err)
	}

	if err := s.saveOutputs(ctx, conv, result); err != nil {
		s.fail(ctx, id, err.Error())
		return err
	}

	conv.ChunkCount = len(result.Chunks)
	conv.FailedChunks = result.FailedChunks()
	conv.RecordCount = len(result.Records)
	conv.TotalPages = result.TotalPages
	conv.PagesDone = result.TotalPages
	if err := s.complete(ctx, conv); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"conversion_id": id,
		"records":       conv.RecordCount,
		"failed_chunks": conv.FailedChunks,
	}).Info("Conversion completed")
	return nil
}

// Output 打开结果CSV
func (s *ConversionService) Output(ctx context.Context, id string) (io.ReadCloser, *models.Conversion, error) {
	return s.open(ctx, id, func(c *models.Conversion) string { return c.OutputID })
}

// Preview 打开HTML预览
func (s *ConversionService) Preview(ctx context.Context, id string) (io.ReadCloser, *models.Conversion, error) {
	return s.open(ctx, id, func(c *models.Conversion) string { return c.PreviewID })
}

// Delete 删除任务及其文件
// 配置了队列时撤销排队中的任务，文件交给清理任务删除
func (s *ConversionService) Delete(ctx context.Context, id string) error {
	conv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if conv.Status == models.ConvStatusProcessing {
		return fmt.Errorf("%w: conversion %s is still processing", models.ErrInvalidStatus, id)
	}

	var fileIDs []string
	for _, fileID := range []string{conv.FileID, conv.OutputID, conv.PreviewID} {
		if fileID != "" {
			fileIDs = append(fileIDs, fileID)
		}
	}

	if s.taskQueue != nil {
		s.cancelTasks(ctx, id)
		if len(fileIDs) > 0 {
			_, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskCleanup, id, &taskqueue.CleanupPayload{
				ConversionID: id,
				FileIDs:      fileIDs,
			})
			if err == nil {
				return s.repo.Delete(ctx, id)
			}
			s.logger.WithField("conversion_id", id).WithError(err).Warn("Failed to enqueue cleanup, deleting files inline")
		}
	}

	if err := s.deleteFiles(ctx, fileIDs); err != nil {
		s.logger.WithField("conversion_id", id).WithError(err).Warn("Failed to delete files")
	}
	return s.repo.Delete(ctx, id)
}

// TaskInfo 返回转换任务对应的队列任务，未使用队列时返回nil
func (s *ConversionService) TaskInfo(ctx context.Context, conv *models.Conversion) (*taskqueue.TaskInfo, error) {
	if s.taskQueue == nil || conv.TaskID == "" {
		return nil, nil
	}
	task, err := s.taskQueue.GetTask(ctx, conv.TaskID)
	if errors.Is(err, taskqueue.ErrTaskNotFound) {
		// 元数据已过期
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return taskqueue.NewTaskInfo(task, time.Now()), nil
}

// cancelTasks 删除仍在排队的任务
func (s *ConversionService) cancelTasks(ctx context.Context, id string) {
	tasks, err := s.taskQueue.GetTasksByConversion(ctx, id)
	if err != nil {
		s.logger.WithField("conversion_id", id).WithError(err).Warn("Failed to list queued tasks")
		return
	}
	for _, task := range tasks {
		if task.Status != taskqueue.StatusPending {
			continue
		}
		if err := s.taskQueue.DeleteTask(ctx, task.ID); err != nil {
			s.logger.WithField("task_id", task.ID).WithError(err).Warn("Failed to delete queued task")
		}
	}
}

// deleteFiles 删除存储中的文件，已不存在的文件忽略
func (s *ConversionService) deleteFiles(ctx context.Context, fileIDs []string) error {
	var errs []error
	for _, fileID := range fileIDs {
		if err := s.storage.Delete(ctx, fileID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", fileID, err))
		}
	}
	return errors.Join(errs...)
}

// ProcessTask 实现taskqueue.Handler
func (s *ConversionService) ProcessTask(ctx context.Context, task *taskqueue.Task) error {
	switch task.Type {
	case taskqueue.TaskConvert:
		payload, err := taskqueue.DecodeConvert(task)
		if err != nil {
			return err
		}
		return s.Execute(ctx, payload.ConversionID)
	case taskqueue.TaskCleanup:
		payload, err := taskqueue.DecodeCleanup(task)
		if err != nil {
			return err
		}
		return s.deleteFiles(ctx, payload.FileIDs)
	default:
		return fmt.Errorf("%w: unsupported task type %s", taskqueue.ErrInvalidPayload, task.Type)
	}
}

// TaskResult 实现taskqueue.ResultProvider，转换成功后把统计写入队列任务
func (s *ConversionService) TaskResult(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	if task.Type != taskqueue.TaskConvert {
		return nil, nil
	}
	conv, err := s.repo.GetByID(ctx, task.ConversionID)
	if err != nil {
		return nil, err
	}
	return &taskqueue.ConvertResult{
		ConversionID: conv.ID,
		RecordCount:  conv.RecordCount,
		ChunkCount:   conv.ChunkCount,
		FailedChunks: conv.FailedChunks,
		OutputID:     conv.OutputID,
	}, nil
}

// GetTaskTypes 实现taskqueue.Handler
func (s *ConversionService) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskConvert, taskqueue.TaskCleanup}
}

// markProcessing 将任务标记为处理中，已结束的任务返回nil
func (s *ConversionService) markProcessing(ctx context.Context, id string) (*models.Conversion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Finished() {
		s.logger.WithField("conversion_id", id).Info("Conversion already finished, skipping")
		return nil, nil
	}
	// 队列重试时任务可能已处于处理中
	if err := s.repo.UpdateStatus(ctx, id, models.ConvStatusProcessing, ""); err != nil {
		return nil, err
	}
	conv.Status = models.ConvStatusProcessing
	return conv, nil
}

func (s *ConversionService) complete(ctx context.Context, conv *models.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Update(ctx, conv); err != nil {
		return fmt.Errorf("failed to save conversion: %w", err)
	}
	return s.repo.UpdateStatus(ctx, conv.ID, models.ConvStatusCompleted, "")
}

func (s *ConversionService) fail(ctx context.Context, id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ctx可能已超时，状态写入使用独立的上下文
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.UpdateStatus(ctx, id, models.ConvStatusFailed, msg); err != nil {
		s.logger.WithField("conversion_id", id).WithError(err).Error("Failed to mark conversion as failed")
	}
}

func (s *ConversionService) readFile(ctx context.Context, fileID string) ([]byte, error) {
	rc, err := s.storage.Get(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// saveOutputs 保存CSV和HTML预览
func (s *ConversionService) saveOutputs(ctx context.Context, conv *models.Conversion, result *RunResult) error {
	base := strings.TrimSuffix(conv.FileName, filepath.Ext(conv.FileName))

	var buf bytes.Buffer
	if err := record.WriteCSV(&buf, result.Records); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	info, err := s.storage.Save(ctx, &buf, base+".csv")
	if err != nil {
		return fmt.Errorf("failed to save csv: %w", err)
	}
	conv.OutputID = info.ID

	preview, err := s.storage.Save(ctx, bytes.NewReader(record.RenderHTML(result.Records)), base+".html")
	if err != nil {
		s.logger.WithError(err).Warn("Failed to save preview")
		return nil
	}
	conv.PreviewID = preview.ID
	return nil
}

func (s *ConversionService) open(ctx context.Context, id string, fileID func(*models.Conversion) string) (io.ReadCloser, *models.Conversion, error) {
	conv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	fid := fileID(conv)
	if conv.Status != models.ConvStatusCompleted || fid == "" {
		return nil, conv, models.ErrOutputNotReady
	}
	rc, err := s.storage.Get(ctx, fid)
	if err != nil {
		return nil, conv, err
	}
	return rc, conv, nil
}

// chunkModel 转换为数据库记录
func chunkModel(conversionID string, r ChunkReport) *models.ChunkResult {
	m := &models.ChunkResult{
		ConversionID: conversionID,
		ChunkIndex:   r.Index,
		StartPage:    r.Range.Start + 1,
		EndPage:      r.Range.End,
		RecordCount:  r.Records,
		Attempts:     r.Attempts,
		DurationMS:   r.Duration.Milliseconds(),
		RawReply:     r.RawReply,
		CleanedReply: r.CleanedReply,
	}
	if r.Err != nil {
		m.Error = r.Err.Error()
	}
	if len(r.Skipped) > 0 {
		pages := make([]int, len(r.Skipped))
		for i, idx := range r.Skipped {
			pages[i] = idx + 1
		}
		if data, err := json.Marshal(pages); err == nil {
			m.SkippedPages = datatypes.JSON(data)
		}
	}
	if len(r.ImagePaths) > 0 {
		if data, err := json.Marshal(r.ImagePaths); err == nil {
			m.ImagePaths = datatypes.JSON(data)
		}
	}
	return m
}
