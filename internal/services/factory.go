package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fyerfyer/sat-parser/config"
	"github.com/fyerfyer/sat-parser/internal/cache"
	"github.com/fyerfyer/sat-parser/internal/llm"
	"github.com/fyerfyer/sat-parser/internal/ocr"
	"github.com/fyerfyer/sat-parser/pkg/storage"
)

// NewDispatcher 按配置组装OCR引擎
// Mathpix凭据缺失时只使用Tesseract；c不为nil时缓存识别结果
func NewDispatcher(cfg *config.Config, c cache.Cache, logger *logrus.Logger) (*ocr.Dispatcher, error) {
	mode, err := ocr.ParseMode(cfg.Pipeline.OCRMode)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.Cache.TTL) * time.Second

	var langs []string
	if cfg.OCR.Language != "" {
		langs = strings.Split(cfg.OCR.Language, "+")
	}
	var text ocr.Engine = ocr.NewTesseractEngine(langs...)
	if c != nil && cfg.OCR.Cache {
		text = ocr.NewCachedEngine(text, c, ttl, logger)
	}

	var math ocr.Engine
	mathpix, err := ocr.NewMathpixEngine(ocr.MathpixConfig{
		AppID:       cfg.Mathpix.AppID,
		AppKey:      cfg.Mathpix.AppKey,
		Endpoint:    cfg.Mathpix.Endpoint,
		MaxRetries:  cfg.Mathpix.MaxRetries,
		BackoffBase: cfg.Mathpix.BackoffBase,
		Timeout:     cfg.Mathpix.Timeout,
		Cooldown:    cfg.Mathpix.Cooldown,
		Logger:      logger,
	})
	switch {
	case errors.Is(err, ocr.ErrUnavailable):
		logger.Warn("Mathpix credentials not set, math OCR disabled")
	case err != nil:
		return nil, err
	default:
		math = mathpix
		if c != nil && cfg.OCR.Cache {
			math = ocr.NewCachedEngine(mathpix, c, ttl, logger)
		}
	}

	return ocr.NewDispatcher(text, math, mode,
		ocr.WithMathRatio(cfg.Pipeline.MathRatio),
		ocr.WithLogger(logger)), nil
}

// NewLLMStructurer 按配置创建模型客户端和重试器
// 请求间隔由llm_cooldown限流器保证
func NewLLMStructurer(cfg *config.Config, logger *logrus.Logger) (*llm.Structurer, error) {
	opts := []llm.Option{
		llm.WithAPIKey(cfg.LLM.APIKey),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithJSONMode(cfg.LLM.Provider == "openai"),
	}
	if cfg.LLM.Endpoint != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLM.Endpoint))
	}
	if cfg.LLM.Timeout > 0 {
		opts = append(opts, llm.WithTimeout(cfg.LLM.Timeout))
	}

	client, err := llm.NewClient(cfg.LLM.Provider, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	structOpts := []llm.StructurerOption{
		llm.WithMaxAttempts(cfg.LLM.MaxRetries),
		llm.WithBackoffBase(cfg.LLM.BackoffBase),
		llm.WithLogger(logger),
	}
	if cfg.Pipeline.LLMCooldown > 0 {
		structOpts = append(structOpts, llm.WithLimiter(rate.NewLimiter(rate.Every(cfg.Pipeline.LLMCooldown), 1)))
	}
	return llm.NewStructurer(client, structOpts...), nil
}

// NewPipelineFromConfig 按配置组装完整的转换流水线
func NewPipelineFromConfig(cfg *config.Config, store storage.Storage, c cache.Cache, logger *logrus.Logger) (*Pipeline, error) {
	dispatcher, err := NewDispatcher(cfg, c, logger)
	if err != nil {
		return nil, err
	}
	structurer, err := NewLLMStructurer(cfg, logger)
	if err != nil {
		return nil, err
	}

	return NewPipeline(PipelineConfig{
		ChunkSize:     cfg.Pipeline.ChunkSize,
		RenderDPI:     cfg.Pipeline.RenderDPI,
		ChunkCooldown: cfg.Pipeline.ChunkCooldown,
		ImagePrefix:   cfg.Pipeline.ImagePrefix,
		CleanupImages: cfg.Pipeline.CleanupImages,
	}, dispatcher, structurer, store, WithPipelineLogger(logger)), nil
}

// NewStorage 按配置创建文件存储
func NewStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.New(storage.Config{
		Type:  cfg.Storage.Type,
		Local: storage.LocalConfig{Path: cfg.Storage.Path},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		},
	})
}

// NewCache 按配置创建识别结果缓存，未启用时返回nil
func NewCache(cfg *config.Config) (cache.Cache, error) {
	if !cfg.Cache.Enable {
		return nil, nil
	}
	cc := cache.DefaultConfig()
	cc.Type = cfg.Cache.Type
	cc.RedisAddr = cfg.Cache.Address
	cc.RedisPassword = cfg.Cache.Password
	cc.RedisDB = cfg.Cache.DB
	cc.DefaultTTL = time.Duration(cfg.Cache.TTL) * time.Second
	return cache.NewCache(cc)
}
