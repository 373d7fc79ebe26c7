package taskqueue

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestQueue 基于miniredis创建队列
func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	q, err := NewRedisQueue(&Config{
		RedisAddr:   mr.Addr(),
		Concurrency: 1,
		RetryLimit:  1,
		RetryDelay:  time.Second,
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	rq, ok := q.(*RedisQueue)
	require.True(t, ok, "Failed to cast to RedisQueue")
	return rq, mr
}

func convertPayload(id string) *ConvertPayload {
	return &ConvertPayload{
		ConversionID: id,
		FileID:       "file-" + id,
		FileName:     "practice.pdf",
	}
}

func TestNewRedisQueue_Unreachable(t *testing.T) {
	_, err := NewRedisQueue(&Config{RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisQueue_Enqueue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskConvert, "conv-1", convertPayload("conv-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskConvert, task.Type)
	assert.Equal(t, "conv-1", task.ConversionID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 1, task.MaxRetries)

	payload, err := DecodeConvert(task)
	require.NoError(t, err)
	assert.Equal(t, "file-conv-1", payload.FileID)
}

func TestRedisQueue_EnqueueWithOptions(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskCleanup, "conv-2", &CleanupPayload{
		ConversionID: "conv-2",
		FileIDs:      []string{"a", "b"},
	}, WithDelay(time.Minute), WithTimeout(time.Hour))
	require.NoError(t, err)

	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskCleanup, task.Type)
	assert.Equal(t, StatusPending, task.Status)

	// 延迟任务进入asynq的scheduled集合
	assert.True(t, mr.Exists("asynq:{conversions}:scheduled"))
}

func TestRedisQueue_GetTasksByConversion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, TaskConvert, "conv-3", convertPayload("conv-3"))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, TaskCleanup, "conv-3", &CleanupPayload{ConversionID: "conv-3"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, TaskConvert, "other", convertPayload("other"))
	require.NoError(t, err)

	tasks, err := q.GetTasksByConversion(ctx, "conv-3")
	require.NoError(t, err)

	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{id1, id2}, ids)

	tasks, err = q.GetTasksByConversion(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRedisQueue_UpdateTaskStatus(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskConvert, "conv-4", convertPayload("conv-4"))
	require.NoError(t, err)

	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))
	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.NotNil(t, task.StartedAt)

	result := &ConvertResult{ConversionID: "conv-4", RecordCount: 12, ChunkCount: 3, FailedChunks: 1}
	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""))

	task, err = q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)

	var got ConvertResult
	require.NoError(t, json.Unmarshal(task.Result, &got))
	assert.Equal(t, *result, got)

	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, "boom"))
	task, err = q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "boom", task.Error)

	assert.ErrorIs(t, q.UpdateTaskStatus(ctx, "missing", StatusFailed, nil, ""), ErrTaskNotFound)
}

func TestRedisQueue_DeleteTask(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskConvert, "conv-5", convertPayload("conv-5"))
	require.NoError(t, err)

	require.NoError(t, q.DeleteTask(ctx, taskID))

	_, err = q.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := q.GetTasksByConversion(ctx, "conv-5")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.ErrorIs(t, q.DeleteTask(ctx, taskID), ErrTaskNotFound)
}

func TestRedisQueue_WaitForTask(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskConvert, "conv-6", convertPayload("conv-6"))
	require.NoError(t, err)

	t.Run("timeout", func(t *testing.T) {
		_, err := q.WaitForTask(ctx, taskID, 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrTaskTimeout)
	})

	t.Run("woken by status update", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(100 * time.Millisecond)
			assert.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusCompleted, nil, ""))
		}()

		task, err := q.WaitForTask(ctx, taskID, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, task.Status)
		wg.Wait()
	})

	t.Run("missing task", func(t *testing.T) {
		_, err := q.WaitForTask(ctx, "missing", time.Second)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestRedisQueue_StatusNotification(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskConvert, "conv-8", convertPayload("conv-8"))
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(ctx, statusChannel(taskID))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(StatusProcessing), msg.Payload)
}

func TestTaskInfo(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task := &Task{
		ID:         "t1",
		Type:       TaskConvert,
		Status:     StatusPending,
		MaxRetries: 2,
		CreatedAt:  created,
	}

	info := NewTaskInfo(task, created.Add(90*time.Second))
	assert.Equal(t, "1m30s", info.Waiting)
	assert.Equal(t, 2, info.MaxRetries)
	assert.False(t, task.Finished())

	task.Status = StatusFailed
	task.Error = "boom"
	info = NewTaskInfo(task, created.Add(time.Hour))
	assert.Empty(t, info.Waiting)
	assert.Equal(t, "boom", info.Error)
	assert.True(t, task.Finished())
}

// TestRedisWorker 需要本地Redis服务，不可用时跳过
func TestRedisWorker(t *testing.T) {
	redisAddr := "localhost:6379"
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis worker test: Redis not available at localhost:6379")
	}
	client.Close()

	cfg := &Config{
		RedisAddr:   redisAddr,
		Concurrency: 1,
		RetryLimit:  0,
		RetryDelay:  time.Second,
	}
	queue, err := NewRedisQueue(cfg)
	require.NoError(t, err)
	defer queue.Close()

	worker := NewRedisWorker(queue.(*RedisQueue), cfg)

	var mu sync.Mutex
	processed := make(map[string]bool)
	RegisterAll(worker, HandlerFunc{
		Types: []TaskType{TaskConvert},
		Fn: func(ctx context.Context, task *Task) error {
			mu.Lock()
			defer mu.Unlock()
			processed[task.ID] = true
			return nil
		},
	})

	require.NoError(t, worker.Start())
	defer worker.Stop()

	taskID, err := queue.Enqueue(ctx, TaskConvert, "conv-worker", convertPayload("conv-worker"))
	require.NoError(t, err)

	task, err := queue.WaitForTask(ctx, taskID, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, processed[taskID])
}

func TestRedisWorker_Wrap(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	w := NewRedisWorker(q, nil).(*RedisWorker)

	t.Run("success", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskConvert, "conv-w1", convertPayload("conv-w1"))
		require.NoError(t, err)

		var seen *Task
		h := HandlerFunc{Types: []TaskType{TaskConvert}, Fn: func(_ context.Context, task *Task) error {
			seen = task
			return nil
		}}
		require.NoError(t, w.wrap(h)(ctx, asynq.NewTask(string(TaskConvert), []byte(taskID))))
		require.NotNil(t, seen)
		assert.Equal(t, "conv-w1", seen.ConversionID)

		task, err := q.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, task.Status)
		assert.Equal(t, 1, task.Attempts)
	})

	t.Run("invalid payload skips retry", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskConvert, "conv-w2", nil)
		require.NoError(t, err)

		h := HandlerFunc{Fn: func(_ context.Context, task *Task) error {
			_, err := DecodeConvert(task)
			return err
		}}
		err = w.wrap(h)(ctx, asynq.NewTask(string(TaskConvert), []byte(taskID)))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.ErrorIs(t, err, ErrInvalidPayload)

		task, err := q.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, task.Status)
		assert.NotEmpty(t, task.Error)
	})

	t.Run("result provider", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskConvert, "conv-w3", convertPayload("conv-w3"))
		require.NoError(t, err)

		require.NoError(t, w.wrap(resultHandler{records: 7})(ctx, asynq.NewTask(string(TaskConvert), []byte(taskID))))

		task, err := q.GetTask(ctx, taskID)
		require.NoError(t, err)
		var got ConvertResult
		require.NoError(t, UnmarshalPayload(task.Result, &got))
		assert.Equal(t, "conv-w3", got.ConversionID)
		assert.Equal(t, 7, got.RecordCount)
	})

	t.Run("missing metadata", func(t *testing.T) {
		h := HandlerFunc{Fn: func(context.Context, *Task) error { return nil }}
		err := w.wrap(h)(ctx, asynq.NewTask(string(TaskConvert), []byte("gone")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

type resultHandler struct {
	records int
}

func (resultHandler) ProcessTask(context.Context, *Task) error { return nil }

func (resultHandler) GetTaskTypes() []TaskType { return []TaskType{TaskConvert} }

func (h resultHandler) TaskResult(_ context.Context, task *Task) (interface{}, error) {
	return &ConvertResult{ConversionID: task.ConversionID, RecordCount: h.records}, nil
}
