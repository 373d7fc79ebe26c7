package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/sat-parser/api/middleware"
	"github.com/fyerfyer/sat-parser/api/model"
	"github.com/fyerfyer/sat-parser/internal/models"
	"github.com/fyerfyer/sat-parser/internal/services"
)

// ConversionHandler 处理转换任务相关的API请求
type ConversionHandler struct {
	service *services.ConversionService
	logger  *logrus.Logger
}

// NewConversionHandler 创建新的转换处理器
func NewConversionHandler(service *services.ConversionService) *ConversionHandler {
	return &ConversionHandler{
		service: service,
		logger:  middleware.GetLogger(),
	}
}

// Upload 上传PDF并创建转换任务
// POST /api/conversions
func (h *ConversionHandler) Upload(c *gin.Context) {
	var req model.ConversionUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("未提供文件", err.Error()))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("无法打开上传的文件", err.Error()))
		return
	}
	defer file.Close()

	conv, err := h.service.Submit(c.Request.Context(), file, filepath.Base(req.File.Filename))
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedFile) {
			middleware.HandleError(c, middleware.NewValidationError("不支持的文件类型，仅支持 .pdf"))
			return
		}
		middleware.HandleError(c, middleware.NewInternalError("创建转换任务失败", err.Error()))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"conversion_id": conv.ID,
		"filename":      conv.FileName,
		"size":          conv.FileSize,
	}).Info("Conversion created")

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.NewConversionInfo(conv)))
}

// Get 获取任务状态和分块诊断
// GET /api/conversions/:id
func (h *ConversionHandler) Get(c *gin.Context) {
	var req model.ConversionIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的任务ID"))
		return
	}

	conv, chunks, err := h.service.Get(c.Request.Context(), req.ID)
	if err != nil {
		middleware.HandleError(c, h.translate(err))
		return
	}

	task, err := h.service.TaskInfo(c.Request.Context(), conv)
	if err != nil {
		// 队列不可用不影响查询
		h.logger.WithError(err).WithField("conversion_id", conv.ID).Warn("Failed to load queue task")
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConversionDetailResponse{
		ConversionInfo: model.NewConversionInfo(conv),
		Chunks:         model.NewChunkInfos(chunks),
		Task:           task,
	}))
}

// List 分页列出任务
// GET /api/conversions
func (h *ConversionHandler) List(c *gin.Context) {
	var req model.ConversionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的查询参数", err.Error()))
		return
	}

	convs, total, err := h.service.List(c.Request.Context(), req.Offset(), req.GetPageSize(), models.ConversionStatus(req.Status))
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("获取任务列表失败", err.Error()))
		return
	}

	infos := make([]model.ConversionInfo, 0, len(convs))
	for _, conv := range convs {
		infos = append(infos, model.NewConversionInfo(conv))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConversionListResponse{
		Total:       total,
		Page:        req.GetPage(),
		PageSize:    req.GetPageSize(),
		Conversions: infos,
	}))
}

// Download 下载结果CSV
// GET /api/conversions/:id/csv
func (h *ConversionHandler) Download(c *gin.Context) {
	var req model.ConversionIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的任务ID"))
		return
	}

	rc, conv, err := h.service.Output(c.Request.Context(), req.ID)
	if err != nil {
		middleware.HandleError(c, h.translate(err))
		return
	}
	defer rc.Close()

	name := strings.TrimSuffix(conv.FileName, filepath.Ext(conv.FileName)) + ".csv"
	h.stream(c, rc, "text/csv; charset=utf-8", map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
	})
}

// Preview 查看HTML预览
// GET /api/conversions/:id/preview
func (h *ConversionHandler) Preview(c *gin.Context) {
	var req model.ConversionIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的任务ID"))
		return
	}

	rc, _, err := h.service.Preview(c.Request.Context(), req.ID)
	if err != nil {
		middleware.HandleError(c, h.translate(err))
		return
	}
	defer rc.Close()

	h.stream(c, rc, "text/html; charset=utf-8", nil)
}

// Delete 删除任务及其文件
// DELETE /api/conversions/:id
func (h *ConversionHandler) Delete(c *gin.Context) {
	var req model.ConversionIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的任务ID"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), req.ID); err != nil {
		middleware.HandleError(c, h.translate(err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConversionDeleteResponse{
		Success: true,
		ID:      req.ID,
	}))
}

func (h *ConversionHandler) stream(c *gin.Context, r io.Reader, contentType string, headers map[string]string) {
	c.DataFromReader(http.StatusOK, -1, contentType, r, headers)
}

// translate 将服务层错误映射为应用错误
func (h *ConversionHandler) translate(err error) error {
	switch {
	case errors.Is(err, models.ErrConversionNotFound):
		return middleware.NewNotFoundError("未找到转换任务")
	case errors.Is(err, models.ErrOutputNotReady):
		return middleware.NewConflictError("转换结果尚未生成")
	case errors.Is(err, models.ErrInvalidStatus):
		return middleware.NewConflictError("任务正在处理中", err.Error())
	default:
		return middleware.NewInternalError("请求处理失败", err.Error())
	}
}
