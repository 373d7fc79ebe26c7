package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内的识别结果缓存，命令行转换时使用
// 进程退出后失效，多次转换同一本PDF时需要改用redis
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache 创建内存缓存，未设置的时间参数取默认值
func NewMemoryCache(config Config) (Cache, error) {
	defaults := DefaultConfig()
	ttl, interval := config.DefaultTTL, config.CleanupInterval
	if ttl <= 0 {
		ttl = defaults.DefaultTTL
	}
	if interval <= 0 {
		interval = defaults.CleanupInterval
	}
	return &MemoryCache{items: gocache.New(ttl, interval)}, nil
}

// Get 读取识别结果，识别为空的图片同样算命中
func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return "", false, nil
	}
	text, ok := v.(string)
	return text, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.items.Set(key, value, ttl)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *MemoryCache) Clear(_ context.Context) error {
	m.items.Flush()
	return nil
}

// Len 当前缓存的条目数，包含尚未清理的过期条目
func (m *MemoryCache) Len() int {
	return m.items.ItemCount()
}

func init() {
	RegisterCache("memory", NewMemoryCache)
}
