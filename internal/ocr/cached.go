package ocr

import (
	"context"
	"time"

	"github.com/fyerfyer/sat-parser/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedEngine 以图片内容摘要缓存识别结果
// 缓存读写失败只记录日志，不影响识别
type CachedEngine struct {
	inner  Engine
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedEngine 包装一个引擎
func NewCachedEngine(inner Engine, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedEngine{inner: inner, cache: c, ttl: ttl, logger: logger}
}

// Name 返回被包装引擎的名称
func (e *CachedEngine) Name() string {
	return e.inner.Name()
}

// Recognize 先查缓存，未命中时调用被包装的引擎并写回
func (e *CachedEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	key := cache.ContentKey("ocr", e.inner.Name(), image)

	if text, found, err := e.cache.Get(ctx, key); err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("OCR cache read failed")
	} else if found {
		return text, nil
	}

	text, err := e.inner.Recognize(ctx, image)
	if err != nil {
		return "", err
	}

	if err := e.cache.Set(ctx, key, text, e.ttl); err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("OCR cache write failed")
	}
	return text, nil
}
