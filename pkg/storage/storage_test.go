package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewLocalStorage(LocalConfig{Path: dir})
	require.NoError(t, err)

	info, err := store.Save(ctx, bytes.NewBufferString("png bytes"), "p3 image 1.png")
	require.NoError(t, err)

	t.Run("Save", func(t *testing.T) {
		assert.NotEmpty(t, info.ID)
		assert.Equal(t, "p3 image 1.png", info.Name)
		assert.Equal(t, int64(9), info.Size)
		assert.Equal(t, "image/png", info.MimeType)
		assert.True(t, strings.HasSuffix(info.Path, info.ID+"_p3-image-1.png"))
		assert.Equal(t, filepath.Join(dir, filepath.FromSlash(info.Path)), info.Location)

		_, err := os.Stat(info.Location)
		assert.NoError(t, err)
	})

	t.Run("Get", func(t *testing.T) {
		rc, err := store.Get(ctx, info.ID)
		require.NoError(t, err)
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "png bytes", string(data))
	})

	t.Run("List", func(t *testing.T) {
		files, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, info.ID, files[0].ID)
		assert.Equal(t, "p3-image-1.png", files[0].Name)
		assert.Equal(t, info.Location, files[0].Location)
	})

	t.Run("Exists and Delete", func(t *testing.T) {
		ok, err := store.Exists(ctx, info.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, store.Delete(ctx, info.ID))

		ok, err = store.Exists(ctx, info.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, store.Delete(ctx, info.ID), ErrNotFound)
		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestObjectName(t *testing.T) {
	now := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	name := objectName("abc", "../evil/name?.png", now)
	assert.Equal(t, "2026/03/07/abc_name-.png", name)
	assert.Equal(t, "abc", idFromName(name))
	assert.Equal(t, "name-.png", originalName(name))
	assert.Equal(t, "2026/03/07/abc_file", objectName("abc", "", now))
}

func TestNew(t *testing.T) {
	s, err := New(Config{Type: "local", Local: LocalConfig{Path: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(Config{Type: "ftp"})
	assert.Error(t, err)
}

// TestMinioStorage 需要可访问的MinIO服务，未配置时跳过
func TestMinioStorage(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	ctx := context.Background()

	store, err := NewMinioStorage(MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    "satparser-test",
	})
	require.NoError(t, err)

	info, err := store.Save(ctx, strings.NewReader("csv,data"), "out.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Location, "minio://satparser-test/"))

	ok, err := store.Exists(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, store.Delete(ctx, info.ID))
}
