package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fyerfyer/sat-parser/api"
	"github.com/fyerfyer/sat-parser/api/handler"
	"github.com/fyerfyer/sat-parser/api/middleware"
	"github.com/fyerfyer/sat-parser/config"
	"github.com/fyerfyer/sat-parser/internal/database"
	"github.com/fyerfyer/sat-parser/internal/document"
	"github.com/fyerfyer/sat-parser/internal/record"
	"github.com/fyerfyer/sat-parser/internal/repository"
	"github.com/fyerfyer/sat-parser/internal/services"
	"github.com/fyerfyer/sat-parser/pkg/taskqueue"
)

// 命令行选项
type options struct {
	ConfigFile string // 配置文件路径
	Output     string // CSV输出路径，覆盖pipeline.output
	LogLevel   string // 日志级别，覆盖log.level
	Serve      bool   // 以HTTP服务方式运行
	Worker     bool   // 同时启动队列工作者
	InitConfig string // 写出默认配置后退出
}

func main() {
	opts := parseFlags()

	if opts.InitConfig != "" {
		if err := config.WriteDefault(opts.InitConfig); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default config written to %s\n", opts.InitConfig)
		return
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Output != "" {
		cfg.Pipeline.Output = opts.Output
	}

	logger := setupLogger(cfg.Log)

	if opts.Serve {
		if err := serve(cfg, opts.Worker, logger); err != nil {
			logger.Fatalf("Server error: %v", err)
		}
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: satparser [flags] file.pdf [file.pdf ...]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err := convertFiles(cfg, flag.Args(), logger); err != nil {
		logger.Fatalf("Conversion failed: %v", err)
	}
}

// parseFlags 解析命令行参数
func parseFlags() options {
	var opts options
	flag.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.StringVar(&opts.Output, "out", "", "CSV output path (defaults to pipeline.output)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	flag.BoolVar(&opts.Serve, "serve", false, "Run the HTTP API instead of converting files")
	flag.BoolVar(&opts.Worker, "worker", false, "Process queued conversions in this process (requires queue.enable)")
	flag.StringVar(&opts.InitConfig, "init", "", "Write the default config to the given path and exit")
	flag.Parse()
	return opts
}

// setupLogger 设置日志系统，配置了文件时同时写入滚动日志
func setupLogger(cfg config.LogConfig) *logrus.Logger {
	logger := middleware.GetLogger()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			logger.WithError(err).Warn("Failed to create log directory, logging to stdout only")
			return logger
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}))
	}
	return logger
}

// convertFiles 依次转换多个PDF，结果追加到同一个CSV
// 单个文件失败不影响其余文件
func convertFiles(cfg *config.Config, paths []string, logger *logrus.Logger) error {
	store, err := services.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c, err := services.NewCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	pipeline, err := services.NewPipelineFromConfig(cfg, store, c, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failed []string
	total := 0
	for _, path := range paths {
		result, err := pipeline.RunFile(ctx, path)
		if result != nil && len(result.Records) > 0 {
			// 取消前已完成的分块仍然写出
			if werr := record.AppendCSV(cfg.Pipeline.Output, result.Records, logger); werr != nil {
				return werr
			}
			total += len(result.Records)
		}
		if errors.Is(err, context.Canceled) {
			logger.Warn("Interrupted, stopping")
			break
		}
		if err != nil {
			var openErr *document.DocumentOpenError
			if errors.As(err, &openErr) {
				logger.WithField("file", path).WithError(err).Error("Skipping unreadable document")
			} else {
				logger.WithField("file", path).WithError(err).Error("Conversion failed")
			}
			failed = append(failed, path)
			continue
		}
		if n := result.FailedChunks(); n > 0 {
			logger.WithFields(logrus.Fields{"file": path, "failed_chunks": n}).Warn("Some chunks produced no records")
		}
	}

	logger.WithFields(logrus.Fields{
		"output":  cfg.Pipeline.Output,
		"records": total,
		"files":   len(paths),
	}).Info("All files processed")

	if len(failed) > 0 {
		return fmt.Errorf("%d file(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// serve 启动HTTP服务
func serve(cfg *config.Config, runWorker bool, logger *logrus.Logger) error {
	gin.SetMode(cfg.Server.Mode)
	logger.Info("Starting SAT parser server...")

	if err := database.Setup(&database.Config{Type: cfg.Database.Type, DSN: cfg.Database.DSN}, logger); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	store, err := services.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c, err := services.NewCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	pipeline, err := services.NewPipelineFromConfig(cfg, store, c, logger)
	if err != nil {
		return err
	}

	svcOpts := []services.ConversionOption{services.WithLogger(logger)}

	var queue taskqueue.Queue
	if cfg.Queue.Enable {
		queue, err = setupTaskQueue(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize task queue: %w", err)
		}
		defer queue.Close()
		svcOpts = append(svcOpts, services.WithTaskQueue(queue))
	}

	convService := services.NewConversionService(pipeline, store, repository.NewConversionRepository(), svcOpts...)

	if queue != nil && runWorker {
		rq, ok := queue.(*taskqueue.RedisQueue)
		if !ok {
			return fmt.Errorf("worker requires a redis queue")
		}
		worker := taskqueue.NewRedisWorker(rq, queueConfig(cfg, logger))
		taskqueue.RegisterAll(worker, convService)
		go func() {
			if err := worker.Start(); err != nil {
				logger.WithError(err).Error("Task worker stopped")
			}
		}()
		defer worker.Stop()
		logger.Info("Task worker started")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRouter(handler.NewConversionHandler(convService)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// 未使用队列时转换在后台goroutine中执行
	convService.Wait()
	logger.Info("Server exited")
	return nil
}

func queueConfig(cfg *config.Config, logger *logrus.Logger) *taskqueue.Config {
	qc := taskqueue.DefaultConfig()
	qc.RedisAddr = cfg.Queue.RedisAddr
	qc.RedisPassword = cfg.Queue.RedisPassword
	qc.RedisDB = cfg.Queue.RedisDB
	if cfg.Queue.Concurrency > 0 {
		qc.Concurrency = cfg.Queue.Concurrency
	}
	if cfg.Queue.RetryLimit > 0 {
		qc.RetryLimit = cfg.Queue.RetryLimit
	}
	if cfg.Queue.RetryDelay > 0 {
		qc.RetryDelay = time.Duration(cfg.Queue.RetryDelay) * time.Second
	}
	qc.Logger = logger
	return qc
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg *config.Config, logger *logrus.Logger) (taskqueue.Queue, error) {
	qc := queueConfig(cfg, logger)
	queueType := cfg.Queue.Type
	if queueType == "" {
		queueType = "redis"
	}

	logger.WithFields(logrus.Fields{
		"type":        queueType,
		"redis_addr":  qc.RedisAddr,
		"concurrency": qc.Concurrency,
		"retry_limit": qc.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewQueue(queueType, qc)
}
