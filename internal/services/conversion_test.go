package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/sat-parser/internal/database"
	"github.com/fyerfyer/sat-parser/internal/models"
	"github.com/fyerfyer/sat-parser/internal/repository"
	"github.com/fyerfyer/sat-parser/pkg/storage"
	"github.com/fyerfyer/sat-parser/pkg/taskqueue"
)

type conversionFixture struct {
	service    *ConversionService
	store      *storage.LocalStorage
	repo       repository.ConversionRepository
	structurer *scriptedStructurer
}

func setupConversionService(t *testing.T, opts ...ConversionOption) *conversionFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	repo := repository.NewConversionRepositoryWithDB(db)
	s := &scriptedStructurer{failOn: map[int]bool{}}
	opts = append([]ConversionOption{WithLogger(quietLogger()), WithTimeout(time.Minute)}, opts...)
	svc := NewConversionService(newTestPipeline(s, PipelineConfig{ChunkSize: 1}), store, repo, opts...)

	return &conversionFixture{service: svc, store: store, repo: repo, structurer: s}
}

func TestConversionService_SubmitAndComplete(t *testing.T) {
	f := setupConversionService(t)
	f.structurer.failOn[2] = true
	ctx := context.Background()

	data := buildPDF(t, "Question ID a1", "Question ID a2", "Question ID a3")
	conv, err := f.service.Submit(ctx, bytes.NewReader(data), "practice.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.ConvStatusPending, conv.Status)
	f.service.Wait()

	got, chunks, err := f.service.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConvStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 3, got.TotalPages)
	assert.Equal(t, 3, got.ChunkCount)
	assert.Equal(t, 1, got.FailedChunks)
	assert.Equal(t, 2, got.RecordCount)
	assert.NotNil(t, got.CompletedAt)

	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].StartPage)
	assert.True(t, chunks[1].Failed())
	assert.Equal(t, "sorry, no json", chunks[1].RawReply)
	assert.False(t, chunks[2].Failed())

	t.Run("csv output", func(t *testing.T) {
		rc, _, err := f.service.Output(ctx, conv.ID)
		require.NoError(t, err)
		defer rc.Close()

		rows, err := csv.NewReader(rc).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "question_id", rows[0][0])
		assert.Equal(t, "q1", rows[1][0])
		assert.Equal(t, "q3", rows[2][0])
	})

	t.Run("html preview", func(t *testing.T) {
		rc, _, err := f.service.Preview(ctx, conv.ID)
		require.NoError(t, err)
		defer rc.Close()

		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "Which choice is correct?")
	})

	t.Run("execute again is a no-op", func(t *testing.T) {
		require.NoError(t, f.service.Execute(ctx, conv.ID))
		assert.Equal(t, 3, f.structurer.calls)
	})
}

func TestConversionService_RejectsNonPDF(t *testing.T) {
	f := setupConversionService(t)

	_, err := f.service.Submit(context.Background(), strings.NewReader("hello"), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	list, total, err := f.service.List(context.Background(), 0, 10, "")
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestConversionService_InvalidDocumentFails(t *testing.T) {
	f := setupConversionService(t)
	ctx := context.Background()

	conv, err := f.service.Submit(ctx, strings.NewReader("not a pdf"), "broken.pdf")
	require.NoError(t, err)
	f.service.Wait()

	got, _, err := f.service.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConvStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	_, _, err = f.service.Output(ctx, conv.ID)
	assert.ErrorIs(t, err, models.ErrOutputNotReady)
}

func TestConversionService_ProcessTask(t *testing.T) {
	f := setupConversionService(t)
	ctx := context.Background()

	// 直接创建任务记录，模拟通过队列提交
	info, err := f.store.Save(ctx, bytes.NewReader(buildPDF(t, "Question ID b1")), "queued.pdf")
	require.NoError(t, err)
	conv := &models.Conversion{ID: "conv-queued", FileName: "queued.pdf", FileID: info.ID, Status: models.ConvStatusPending}
	require.NoError(t, f.repo.Create(ctx, conv))

	payload, err := taskqueue.MarshalPayload(&taskqueue.ConvertPayload{ConversionID: conv.ID, FileID: info.ID, FileName: "queued.pdf"})
	require.NoError(t, err)
	require.NoError(t, f.service.ProcessTask(ctx, &taskqueue.Task{ID: "task-1", Type: taskqueue.TaskConvert, Payload: payload}))

	got, err := f.repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConvStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RecordCount)

	t.Run("cleanup task removes files", func(t *testing.T) {
		payload, err := taskqueue.MarshalPayload(&taskqueue.CleanupPayload{ConversionID: conv.ID, FileIDs: []string{got.PreviewID, "missing"}})
		require.NoError(t, err)
		require.NoError(t, f.service.ProcessTask(ctx, &taskqueue.Task{Type: taskqueue.TaskCleanup, Payload: payload}))

		exists, err := f.store.Exists(ctx, got.PreviewID)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("unknown task type", func(t *testing.T) {
		err := f.service.ProcessTask(ctx, &taskqueue.Task{Type: "document:process"})
		assert.ErrorIs(t, err, taskqueue.ErrInvalidPayload)
	})

	assert.ElementsMatch(t, []taskqueue.TaskType{taskqueue.TaskConvert, taskqueue.TaskCleanup}, f.service.GetTaskTypes())
}

func TestConversionService_Delete(t *testing.T) {
	f := setupConversionService(t)
	ctx := context.Background()

	conv, err := f.service.Submit(ctx, bytes.NewReader(buildPDF(t, "Question ID c1")), "delete-me.pdf")
	require.NoError(t, err)
	f.service.Wait()

	got, _, err := f.service.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, models.ConvStatusCompleted, got.Status)

	require.NoError(t, f.service.Delete(ctx, conv.ID))

	for _, id := range []string{got.FileID, got.OutputID, got.PreviewID} {
		exists, err := f.store.Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, exists, id)
	}
	_, _, err = f.service.Get(ctx, conv.ID)
	assert.ErrorIs(t, err, models.ErrConversionNotFound)
}

func TestConversionService_DeleteWhileProcessing(t *testing.T) {
	f := setupConversionService(t)
	ctx := context.Background()

	conv := &models.Conversion{ID: "conv-busy", FileName: "busy.pdf", FileID: "f", Status: models.ConvStatusProcessing}
	require.NoError(t, f.repo.Create(ctx, conv))

	err := f.service.Delete(ctx, conv.ID)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func newQueue(t *testing.T) taskqueue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := taskqueue.NewQueue("redis", &taskqueue.Config{RedisAddr: mr.Addr(), Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestConversionService_Queued(t *testing.T) {
	q := newQueue(t)
	f := setupConversionService(t, WithTaskQueue(q))
	ctx := context.Background()

	conv, err := f.service.Submit(ctx, bytes.NewReader(buildPDF(t, "Question ID b1")), "queued.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, conv.TaskID)

	info, err := f.service.TaskInfo(ctx, conv)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, taskqueue.TaskConvert, info.Type)
	assert.Equal(t, taskqueue.StatusPending, info.Status)

	t.Run("worker executes", func(t *testing.T) {
		task, err := q.GetTask(ctx, conv.TaskID)
		require.NoError(t, err)
		require.NoError(t, f.service.ProcessTask(ctx, task))

		got, _, err := f.service.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConvStatusCompleted, got.Status)

		result, err := f.service.TaskResult(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, 1, result.(*taskqueue.ConvertResult).RecordCount)
	})

	t.Run("delete enqueues cleanup", func(t *testing.T) {
		got, _, err := f.service.Get(ctx, conv.ID)
		require.NoError(t, err)
		exists := func(id string) bool {
			ok, err := f.store.Exists(ctx, id)
			require.NoError(t, err)
			return ok
		}
		require.NoError(t, f.service.Delete(ctx, conv.ID))

		// 文件由清理任务删除
		assert.True(t, exists(got.FileID))

		tasks, err := q.GetTasksByConversion(ctx, conv.ID)
		require.NoError(t, err)
		var cleanup *taskqueue.Task
		for _, task := range tasks {
			if task.Type == taskqueue.TaskCleanup {
				cleanup = task
			}
		}
		require.NotNil(t, cleanup)
		require.NoError(t, f.service.ProcessTask(ctx, cleanup))
		assert.False(t, exists(got.FileID))
		assert.False(t, exists(got.OutputID))
	})
}

func TestConversionService_DeleteCancelsPendingTask(t *testing.T) {
	q := newQueue(t)
	f := setupConversionService(t, WithTaskQueue(q))
	ctx := context.Background()

	conv, err := f.service.Submit(ctx, bytes.NewReader(buildPDF(t, "Question ID c1")), "pending.pdf")
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(ctx, conv.ID))

	_, err = q.GetTask(ctx, conv.TaskID)
	assert.ErrorIs(t, err, taskqueue.ErrTaskNotFound)

	info, err := f.service.TaskInfo(ctx, conv)
	require.NoError(t, err)
	assert.Nil(t, info)
}
