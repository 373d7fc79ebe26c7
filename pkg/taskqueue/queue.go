package taskqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// Queue 转换任务队列
// 任务元数据单独保存，便于按转换任务查询和等待
type Queue interface {
	// Enqueue 投递任务，返回队列任务ID
	Enqueue(ctx context.Context, taskType TaskType, conversionID string, payload interface{}, opts ...EnqueueOption) (string, error)

	// GetTask 获取任务信息
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// GetTasksByConversion 获取一个转换任务投递过的全部队列任务
	GetTasksByConversion(ctx context.Context, conversionID string) ([]*Task, error)

	// WaitForTask 等待任务结束，timeout为0表示只受ctx控制
	WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error)

	// UpdateTaskStatus 更新任务状态和结果
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error

	// DeleteTask 删除任务，已在执行的任务只删除元数据
	DeleteTask(ctx context.Context, taskID string) error

	// Close 关闭队列连接
	Close() error
}

// Handler 任务处理器
type Handler interface {
	ProcessTask(ctx context.Context, task *Task) error
	GetTaskTypes() []TaskType
}

// ResultProvider Handler可选实现，任务成功后提供写入任务的结果
type ResultProvider interface {
	TaskResult(ctx context.Context, task *Task) (interface{}, error)
}

// Worker 从队列取出任务并交给Handler
type Worker interface {
	RegisterHandler(taskType TaskType, handler Handler)
	Start() error
	Stop()
}

// enqueueOptions 单个任务的投递参数
type enqueueOptions struct {
	delay   time.Duration
	timeout time.Duration
}

// EnqueueOption 投递参数
type EnqueueOption func(*enqueueOptions)

// WithDelay 延迟处理，例如延后清理中间文件
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = d
	}
}

// WithTimeout 单次执行的超时时间，超时后按失败重试
func WithTimeout(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.timeout = d
	}
}

// Config 队列配置
type Config struct {
	RedisAddr     string         // Redis地址
	RedisPassword string         // Redis密码
	RedisDB       int            // Redis数据库
	Concurrency   int            // 同时执行的转换数，整本PDF很耗时，默认1
	RetryLimit    int            // 最大重试次数
	RetryDelay    time.Duration  // 重试延迟
	TaskExpiry    time.Duration  // 任务元数据保留时间
	Queues        map[string]int // 队列名称到优先级的映射
	Logger        *logrus.Logger // 日志记录器，为空时使用JSON格式的默认日志
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		RedisAddr:   "localhost:6379",
		Concurrency: 1,
		RetryLimit:  1,
		RetryDelay:  time.Minute,
		TaskExpiry:  7 * 24 * time.Hour,
		Queues:      map[string]int{queueName: 1},
	}
}

// TaskInfo 返回给客户端的任务摘要
type TaskInfo struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxRetries  int        `json:"max_retries"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Waiting     string     `json:"waiting,omitempty"` // 排队时长，仅在未开始时给出
}

// NewTaskInfo 从Task创建TaskInfo
func NewTaskInfo(task *Task, now time.Time) *TaskInfo {
	info := &TaskInfo{
		ID:          task.ID,
		Type:        task.Type,
		Status:      task.Status,
		Attempts:    task.Attempts,
		MaxRetries:  task.MaxRetries,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
	}
	if task.Status == StatusPending && !task.CreatedAt.IsZero() {
		info.Waiting = now.Sub(task.CreatedAt).Round(time.Second).String()
	}
	return info
}

// Finished 任务是否已结束
func (t *Task) Finished() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Factory 队列工厂函数类型
type Factory func(cfg *Config) (Queue, error)

// ErrTaskNotFound 任务未找到错误
var ErrTaskNotFound = TaskError("task not found")

// ErrTaskTimeout 等待任务超时
var ErrTaskTimeout = TaskError("task timed out")

// ErrInvalidPayload 无效的任务载荷，不会重试
var ErrInvalidPayload = TaskError("invalid task payload")

// TaskError 任务错误类型
type TaskError string

// Error 实现error接口
func (e TaskError) Error() string {
	return string(e)
}

// MarshalPayload 将任务载荷序列化为JSON
func MarshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(payload)
}

// UnmarshalPayload 将JSON反序列化为任务载荷
func UnmarshalPayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
