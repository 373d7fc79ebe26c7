package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache 识别结果缓存接口
// 同一张图片在重复转换时不必再次调用OCR服务
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 按类型创建缓存，未知类型回退到内存缓存
func NewCache(config Config) (Cache, error) {
	if factory, ok := registry[config.Type]; ok {
		return factory(config)
	}
	return NewMemoryCache(config)
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "memory", "redis"
	Type string
	// Redis连接地址
	RedisAddr string
	// Redis密码
	RedisPassword string
	// Redis数据库编号
	RedisDB int
	// Redis键前缀，Clear只删除该前缀下的键
	KeyPrefix string
	// 默认过期时间
	DefaultTTL time.Duration
	// 内存缓存的清理间隔
	CleanupInterval time.Duration
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		KeyPrefix:       "satparser",
		DefaultTTL:      time.Hour * 24,
		CleanupInterval: time.Minute * 10,
	}
}

// GenerateCacheKey 生成标准化的缓存键
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// ContentKey 以内容摘要生成缓存键，例如 ocr:mathpix:<sha256>
func ContentKey(prefix, engine string, data []byte) string {
	sum := sha256.Sum256(data)
	return GenerateCacheKey(prefix, engine, hex.EncodeToString(sum[:]))
}
