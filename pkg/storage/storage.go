package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// FileInfo 文件元数据结构
type FileInfo struct {
	ID       string // 文件唯一标识符
	Name     string // 原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
	Path     string // 存储内的相对路径
	Location string // 对外可见的位置（本地绝对路径或minio://bucket/key）
}

// Storage 文件存储接口
// 保存转换过程中的上传PDF、导出图片和CSV结果
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(ctx context.Context, reader io.Reader, filename string) (FileInfo, error)

	// Get 获取文件内容
	Get(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(ctx context.Context, id string) error

	// List 列出所有文件
	List(ctx context.Context) ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(ctx context.Context, id string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string // local 或 minio
	Local LocalConfig
	Minio MinioConfig
}

// New 根据配置创建存储实现
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectName 生成 年/月/日/<id>_<文件名> 形式的相对路径
func objectName(id, filename string, now time.Time) string {
	base := unsafeChars.ReplaceAllString(filepath.Base(filename), "-")
	if base == "" || base == "." || base == "-" {
		base = "file"
	}
	return fmt.Sprintf("%04d/%02d/%02d/%s_%s", now.Year(), now.Month(), now.Day(), id, base)
}

// idFromName 从存储文件名中取出ID
func idFromName(name string) string {
	base := filepath.Base(name)
	if i := strings.Index(base, "_"); i > 0 {
		return base[:i]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// originalName 从存储文件名中取出原始文件名
func originalName(name string) string {
	base := filepath.Base(name)
	if i := strings.Index(base, "_"); i > 0 {
		return base[i+1:]
	}
	return base
}

// getMimeType 根据扩展名判断MIME类型
func getMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
