package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// 所有任务投递到同一个asynq队列
const queueName = "conversions"

func taskKey(id string) string           { return "satparser:task:" + id }
func conversionKey(id string) string     { return "satparser:conversion_tasks:" + id }
func statusChannel(taskID string) string { return "satparser:task_status:" + taskID }

// RedisQueue 基于asynq的任务队列
// asynq负责投递和重试，任务元数据以JSON保存在Redis中
type RedisQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	rdb       *redis.Client
	cfg       *Config
	logger    *logrus.Logger
}

// NewRedisQueue 创建Redis任务队列实例
func NewRedisQueue(cfg *Config) (Queue, error) {
	cfg = withDefaults(cfg)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	opt := redisOpt(cfg)
	return &RedisQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		rdb:       rdb,
		cfg:       cfg,
		logger:    cfg.Logger,
	}, nil
}

// withDefaults 补全未设置的配置项
func withDefaults(cfg *Config) *Config {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.TaskExpiry <= 0 {
		c.TaskExpiry = def.TaskExpiry
	}
	if len(c.Queues) == 0 {
		c.Queues = def.Queues
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
		c.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &c
}

func redisOpt(cfg *Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// Enqueue 保存任务元数据后投递到asynq，两边使用同一个任务ID
func (q *RedisQueue) Enqueue(ctx context.Context, taskType TaskType, conversionID string, payload interface{}, opts ...EnqueueOption) (string, error) {
	var eo enqueueOptions
	for _, opt := range opts {
		opt(&eo)
	}

	data, err := MarshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	task := &Task{
		ID:           uuid.New().String(),
		Type:         taskType,
		ConversionID: conversionID,
		Status:       StatusPending,
		Payload:      data,
		CreatedAt:    now,
		UpdatedAt:    now,
		MaxRetries:   q.cfg.RetryLimit,
	}
	if err := q.save(ctx, task); err != nil {
		return "", err
	}

	asynqOpts := []asynq.Option{
		asynq.TaskID(task.ID),
		asynq.Queue(queueName),
		asynq.MaxRetry(q.cfg.RetryLimit),
	}
	if eo.delay > 0 {
		asynqOpts = append(asynqOpts, asynq.ProcessIn(eo.delay))
	}
	if eo.timeout > 0 {
		asynqOpts = append(asynqOpts, asynq.Timeout(eo.timeout))
	}
	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(string(taskType), []byte(task.ID)), asynqOpts...); err != nil {
		q.forget(ctx, task)
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"task_id":       task.ID,
		"task_type":     taskType,
		"conversion_id": conversionID,
		"delay":         eo.delay.String(),
	}).Info("Task enqueued")
	return task.ID, nil
}

// GetTask 获取任务信息
func (q *RedisQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	data, err := q.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// GetTasksByConversion 按创建时间返回一个转换任务的队列任务，已过期的跳过
func (q *RedisQueue) GetTasksByConversion(ctx context.Context, conversionID string) ([]*Task, error) {
	ids, err := q.rdb.SMembers(ctx, conversionKey(conversionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversion tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := q.GetTask(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// WaitForTask 订阅状态通知等待任务结束，同时定期轮询以防漏掉通知
func (q *RedisQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sub := q.rdb.Subscribe(ctx, statusChannel(taskID))
	defer sub.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrTaskTimeout
			}
			return nil, err
		}
		if task.Finished() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTaskTimeout
		case <-sub.Channel():
		case <-ticker.C:
		}
	}
}

// UpdateTaskStatus 更新任务状态并发布通知
func (q *RedisQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := time.Now()
	task.Status = status
	task.UpdatedAt = now
	switch status {
	case StatusProcessing:
		task.Attempts++
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
	case StatusCompleted, StatusFailed:
		task.CompletedAt = &now
	}
	if result != nil {
		if task.Result, err = MarshalPayload(result); err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}
	if errMsg != "" {
		task.Error = errMsg
	}

	if err := q.save(ctx, task); err != nil {
		return err
	}
	if err := q.rdb.Publish(ctx, statusChannel(taskID), string(status)).Err(); err != nil {
		q.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to publish task status")
	}
	return nil
}

// DeleteTask 删除任务
func (q *RedisQueue) DeleteTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := q.forget(ctx, task); err != nil {
		return err
	}

	// 执行中或已结束的任务不在待处理集合里
	if err := q.inspector.DeleteTask(queueName, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		q.logger.WithError(err).WithField("task_id", taskID).Debug("Task not removed from asynq")
	}
	return nil
}

// Close 关闭队列连接
func (q *RedisQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.rdb.Close())
}

// save 写入任务元数据并登记到转换任务集合
func (q *RedisQueue) save(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, taskKey(task.ID), data, q.cfg.TaskExpiry)
	if task.ConversionID != "" {
		pipe.SAdd(ctx, conversionKey(task.ConversionID), task.ID)
		pipe.Expire(ctx, conversionKey(task.ConversionID), q.cfg.TaskExpiry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// forget 删除任务元数据
func (q *RedisQueue) forget(ctx context.Context, task *Task) error {
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, taskKey(task.ID))
	if task.ConversionID != "" {
		pipe.SRem(ctx, conversionKey(task.ConversionID), task.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// RedisWorker 基于asynq.Server的工作者
type RedisWorker struct {
	server   *asynq.Server
	queue    *RedisQueue
	handlers map[TaskType]Handler
	logger   *logrus.Logger
}

// NewRedisWorker 创建工作者，cfg为nil时沿用队列的配置
func NewRedisWorker(queue *RedisQueue, cfg *Config) Worker {
	if cfg == nil {
		cfg = queue.cfg
	}
	cfg = withDefaults(cfg)
	logger := queue.logger

	server := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return cfg.RetryDelay
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.WithError(err).WithFields(logrus.Fields{
				"task_id":   string(task.Payload()),
				"task_type": task.Type(),
				"retried":   retried,
				"max_retry": maxRetry,
			}).Error("Task failed")
		}),
		Logger: logger,
	})

	return &RedisWorker{
		server:   server,
		queue:    queue,
		handlers: make(map[TaskType]Handler),
		logger:   logger,
	}
}

// RegisterHandler 注册任务处理器
func (w *RedisWorker) RegisterHandler(taskType TaskType, handler Handler) {
	w.handlers[taskType] = handler
}

// Start 启动工作者，不阻塞
func (w *RedisWorker) Start() error {
	mux := asynq.NewServeMux()
	for taskType, h := range w.handlers {
		mux.HandleFunc(string(taskType), w.wrap(h))
		w.logger.WithField("task_type", taskType).Info("Registered task handler")
	}
	return w.server.Start(mux)
}

// Stop 停止工作者，等待执行中的任务结束
func (w *RedisWorker) Stop() {
	w.server.Shutdown()
}

// wrap 在Handler前后维护任务状态
// 载荷无效时跳过重试
func (w *RedisWorker) wrap(h Handler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		taskID := string(t.Payload())
		entry := w.logger.WithFields(logrus.Fields{"task_id": taskID, "task_type": t.Type()})

		task, err := w.queue.GetTask(ctx, taskID)
		if errors.Is(err, ErrTaskNotFound) {
			// 元数据已被删除，任务视为取消
			entry.Warn("Task metadata missing, dropping task")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		if err != nil {
			return err
		}

		if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""); err != nil {
			entry.WithError(err).Warn("Failed to mark task processing")
		}

		// 状态写入不受任务超时影响
		statusCtx := context.WithoutCancel(ctx)
		if err := h.ProcessTask(ctx, task); err != nil {
			if uerr := w.queue.UpdateTaskStatus(statusCtx, taskID, StatusFailed, nil, err.Error()); uerr != nil {
				entry.WithError(uerr).Warn("Failed to mark task failed")
			}
			if errors.Is(err, ErrInvalidPayload) {
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return err
		}

		var result interface{}
		if rp, ok := h.(ResultProvider); ok {
			if result, err = rp.TaskResult(statusCtx, task); err != nil {
				entry.WithError(err).Warn("Failed to collect task result")
				result = nil
			}
		}
		if err := w.queue.UpdateTaskStatus(statusCtx, taskID, StatusCompleted, result, ""); err != nil {
			entry.WithError(err).Warn("Failed to mark task completed")
		}
		entry.Info("Task completed")
		return nil
	}
}

func init() {
	RegisterQueueFactory("redis", func(cfg *Config) (Queue, error) {
		return NewRedisQueue(cfg)
	})
}

var queueFactories = make(map[string]Factory)

// RegisterQueueFactory 注册队列实现
func RegisterQueueFactory(name string, factory Factory) {
	queueFactories[name] = factory
}

// NewQueue 根据名称创建队列实例
func NewQueue(name string, cfg *Config) (Queue, error) {
	factory, ok := queueFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue implementation: %s", name)
	}
	return factory(cfg)
}
