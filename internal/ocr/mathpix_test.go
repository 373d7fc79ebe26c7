package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMathpix(t *testing.T, handler http.HandlerFunc) *MathpixEngine {
	return newTestMathpixWithCooldown(t, 0, handler)
}

func newTestMathpixWithCooldown(t *testing.T, cooldown time.Duration, handler http.HandlerFunc) *MathpixEngine {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	engine, err := NewMathpixEngine(MathpixConfig{
		AppID:       "test-id",
		AppKey:      "test-key",
		Endpoint:    server.URL,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		Cooldown:    cooldown,
	})
	require.NoError(t, err)
	return engine
}

func TestMathpixRecognize(t *testing.T) {
	engine := newTestMathpix(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-id", r.Header.Get("app_id"))
		assert.Equal(t, "test-key", r.Header.Get("app_key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "page.png", header.Filename)
		assert.Equal(t, []byte("png-bytes"), data)

		var opts MathpixOptions
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("options_json")), &opts))
		assert.Equal(t, []string{"text", "latex_styled"}, opts.Formats)
		assert.True(t, opts.DataOptions.IncludeLatex)
		assert.False(t, opts.DataOptions.IncludeAsciimath)
		assert.True(t, opts.EnableTables)
		assert.True(t, opts.IncludeImageData)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"x = 2","latex_styled":"x=2","images":[{"data":"aGk="}]}`))
	})

	text, err := engine.Recognize(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "x=2", text, "latex_styled优先")
}

func TestMathpixTextFallback(t *testing.T) {
	engine := newTestMathpix(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"plain text"}`))
	})

	result, err := engine.Process(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "plain text", result.Content())
}

func TestMathpixRetries(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls int32
		engine := newTestMathpix(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"latex_styled":"y"}`))
		})

		text, err := engine.Recognize(context.Background(), []byte("img"))
		require.NoError(t, err)
		assert.Equal(t, "y", text)
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	})

	t.Run("exhausted retries", func(t *testing.T) {
		var calls int32
		engine := newTestMathpix(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := engine.Recognize(context.Background(), []byte("img"))
		var svcErr *ServiceError
		require.True(t, errors.As(err, &svcErr))
		assert.Equal(t, 3, svcErr.Attempts)
		assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	})

	t.Run("client error is not retried", func(t *testing.T) {
		var calls int32
		engine := newTestMathpix(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := engine.Recognize(context.Background(), []byte("img"))
		var svcErr *ServiceError
		require.True(t, errors.As(err, &svcErr))
		assert.Equal(t, 1, svcErr.Attempts)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("error in body", func(t *testing.T) {
		engine := newTestMathpix(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":"Invalid image","error_info":{"id":"image_decode_error","message":"cannot decode"}}`))
		})

		_, err := engine.Recognize(context.Background(), []byte("img"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot decode")
	})
}

func TestMathpixCooldown(t *testing.T) {
	const cooldown = 40 * time.Millisecond

	t.Run("requests are spaced", func(t *testing.T) {
		var mu sync.Mutex
		var arrivals []time.Time
		engine := newTestMathpixWithCooldown(t, cooldown, func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			arrivals = append(arrivals, time.Now())
			mu.Unlock()
			w.Write([]byte(`{"text":"ok"}`))
		})

		for i := 0; i < 3; i++ {
			_, err := engine.Recognize(context.Background(), []byte("img"))
			require.NoError(t, err)
		}

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, arrivals, 3)
		for i := 1; i < len(arrivals); i++ {
			assert.GreaterOrEqual(t, arrivals[i].Sub(arrivals[i-1]), cooldown-5*time.Millisecond, "request %d", i)
		}
	})

	t.Run("retries wait too", func(t *testing.T) {
		var calls int32
		engine := newTestMathpixWithCooldown(t, cooldown, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"text":"ok"}`))
		})

		start := time.Now()
		_, err := engine.Recognize(context.Background(), []byte("img"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 2*cooldown-10*time.Millisecond)
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		var calls int32
		engine := newTestMathpixWithCooldown(t, time.Hour, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Write([]byte(`{"text":"ok"}`))
		})

		_, err := engine.Recognize(context.Background(), []byte("img"))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = engine.Recognize(ctx, []byte("img"))
		var svcErr *ServiceError
		require.True(t, errors.As(err, &svcErr))
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})
}

func TestMathpixMissingCredentials(t *testing.T) {
	_, err := NewMathpixEngine(MathpixConfig{AppID: "only-id"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
