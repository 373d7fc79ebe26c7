package middleware

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// 初始化日志配置
func init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	if os.Getenv("DEBUG") == "true" {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// SetLogger 替换中间件和处理器使用的日志记录器
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// GetLogger 返回当前的日志记录器
func GetLogger() *logrus.Logger {
	return log
}

// Logger 请求日志中间件
// 健康检查只在debug级别记录，4xx记为warn，5xx记为error
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(logrus.Fields{
			FieldStatus:   status,
			FieldLatency:  time.Since(start).String(),
			FieldClientIP: c.ClientIP(),
			FieldMethod:   c.Request.Method,
			FieldPath:     path,
			FieldTraceID:  traceID(c),
			FieldSize:     c.Writer.Size(),
		})
		if id := c.Param("id"); id != "" {
			entry = entry.WithField(FieldConversion, id)
		}

		switch {
		case strings.HasSuffix(path, "/health"):
			entry.Debug("HTTP request")
		case status >= 500:
			entry.Error("HTTP request")
		case status >= 400:
			entry.Warn("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}

// RequestBodyLog 请求体日志中间件
// 在DEBUG模式下记录请求体内容，文件上传不记录
func RequestBodyLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if log.Level >= logrus.DebugLevel && c.Request.Body != nil &&
			!strings.HasPrefix(c.ContentType(), "multipart/") {
			var buf bytes.Buffer
			body, _ := io.ReadAll(io.TeeReader(c.Request.Body, &buf))
			c.Request.Body = io.NopCloser(&buf)

			if len(body) > 0 {
				log.WithFields(logrus.Fields{
					FieldMethod: c.Request.Method,
					FieldPath:   c.Request.URL.Path,
					"body":      string(body),
				}).Debug("Request body")
			}
		}

		c.Next()
	}
}

// SetTraceID 将追踪ID设置到上下文和响应头中
func SetTraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Trace-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("TraceID", id)
		c.Header("X-Trace-ID", id)
		c.Next()
	}
}

// 常用日志字段
const (
	FieldTraceID    = "trace_id"      // 追踪ID
	FieldPath       = "path"          // 请求路径
	FieldMethod     = "method"        // 请求方法
	FieldStatus     = "status_code"   // 状态码
	FieldLatency    = "latency"       // 延迟时间
	FieldClientIP   = "client_ip"     // 客户端IP
	FieldError      = "error"         // 错误信息
	FieldSize       = "size"          // 响应字节数，CSV下载时较大
	FieldConversion = "conversion_id" // 路径中的转换任务ID
)
