package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Mathpix  MathpixConfig  `mapstructure:"mathpix"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`                            // 服务器主机
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"` // 服务器端口
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读取超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写入超时
}

// PipelineConfig 转换流水线配置
type PipelineConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size" validate:"min=1"`                   // 每个分块的页数
	OCRMode       string        `mapstructure:"ocr_mode" validate:"oneof=text math hybrid"`    // OCR模式
	MathRatio     float64       `mapstructure:"math_ratio" validate:"gt=0,lte=1"`              // 数学符号占比阈值
	RenderDPI     int           `mapstructure:"render_dpi" validate:"min=72,max=600"`          // 整页渲染分辨率
	LLMCooldown   time.Duration `mapstructure:"llm_cooldown"`                                   // 两次LLM调用的最小间隔
	ChunkCooldown time.Duration `mapstructure:"chunk_cooldown"`                                 // 两个分块之间的最小间隔
	Output        string        `mapstructure:"output" validate:"required"`                    // 输出CSV路径
	ImagePrefix   string        `mapstructure:"image_prefix"`                                  // 图片保存文件名前缀
	CleanupImages bool          `mapstructure:"cleanup_images"`                                // 处理完成后删除图片
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" validate:"oneof=anthropic openai"` // 提供商
	Model       string        `mapstructure:"model" validate:"required"`                  // 模型名称
	APIKey      string        `mapstructure:"api_key"`                                    // API密钥
	Endpoint    string        `mapstructure:"endpoint"`                                   // API端点
	MaxTokens   int           `mapstructure:"max_tokens" validate:"min=1"`                // 最大生成token数量
	Temperature float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`         // 采样温度
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=1"`               // 最大尝试次数
	BackoffBase time.Duration `mapstructure:"backoff_base"`                               // 退避基数
	Timeout     time.Duration `mapstructure:"timeout"`                                    // 单次请求超时
}

// MathpixConfig 数学公式OCR服务配置
type MathpixConfig struct {
	AppID       string        `mapstructure:"app_id"`
	AppKey      string        `mapstructure:"app_key"`
	Endpoint    string        `mapstructure:"endpoint" validate:"required,url"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=1"` // 最大尝试次数
	BackoffBase time.Duration `mapstructure:"backoff_base"`                 // 退避基数
	Timeout     time.Duration `mapstructure:"timeout"`                      // 请求超时
	Cooldown    time.Duration `mapstructure:"cooldown"`                     // 相邻请求的最小间隔
}

// OCRConfig 本地OCR配置
type OCRConfig struct {
	Language string `mapstructure:"language"` // Tesseract语言
	Cache    bool   `mapstructure:"cache"`    // 是否缓存识别结果
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"` // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`                              // 本地存储路径
	Bucket    string `mapstructure:"bucket"`                            // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"`                          // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`                             // 是否启用缓存
	Type     string `mapstructure:"type" validate:"oneof=memory redis"` // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`                            // Redis地址
	Password string `mapstructure:"password"`                           // Redis密码
	DB       int    `mapstructure:"db"`                                 // Redis数据库
	TTL      int    `mapstructure:"ttl"`                                // 缓存TTL（秒）
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用任务队列
	Type          string `mapstructure:"type"`           // 队列类型
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    int    `mapstructure:"retry_delay"`    // 重试延迟(秒)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type" validate:"eq=sqlite"` // 数据库类型
	DSN  string `mapstructure:"dsn"`                       // 数据源名称
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file"`         // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // 单个日志文件大小上限
	MaxBackups int    `mapstructure:"max_backups"`  // 保留的旧文件数量
	MaxAgeDays int    `mapstructure:"max_age_days"` // 旧文件保留天数
}

// Load 从文件和环境变量加载配置
// configPath为空或文件不存在时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	// 凭据通过.env文件提供
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); !os.IsNotExist(statErr) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
		} else {
			log.Printf("Using config file: %s", v.ConfigFileUsed())
		}
	}

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expandEnvironmentVariables(&cfg)
	applyWellKnownEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只包含默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate 校验配置取值
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteDefault 将默认配置写入指定路径
func WriteDefault(path string) error {
	v := viper.New()
	setDefaults(v)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return v.WriteConfigAs(path)
}

// expandEnvironmentVariables 展开密钥字段中的${VAR}占位符
func expandEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.LLM.APIKey,
		&cfg.Mathpix.AppID,
		&cfg.Mathpix.AppKey,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
	} {
		*field = expandPlaceholder(*field)
	}
}

func expandPlaceholder(value string) string {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value
	}
	if envVal := os.Getenv(value[2 : len(value)-1]); envVal != "" {
		return envVal
	}
	return value
}

// applyWellKnownEnv 读取服务商约定的环境变量名
func applyWellKnownEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Mathpix.AppID == "" {
		cfg.Mathpix.AppID = os.Getenv("MATHPIX_APP_ID")
	}
	if cfg.Mathpix.AppKey == "" {
		cfg.Mathpix.AppKey = os.Getenv("MATHPIX_APP_KEY")
	}
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	// 流水线默认配置
	v.SetDefault("pipeline.chunk_size", 8)
	v.SetDefault("pipeline.ocr_mode", "hybrid")
	v.SetDefault("pipeline.math_ratio", 0.2)
	v.SetDefault("pipeline.render_dpi", 300)
	v.SetDefault("pipeline.llm_cooldown", "10s")
	v.SetDefault("pipeline.chunk_cooldown", "2s")
	v.SetDefault("pipeline.output", "parsed_questions.csv")
	v.SetDefault("pipeline.image_prefix", "q")
	v.SetDefault("pipeline.cleanup_images", false)

	// LLM默认配置
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-opus-4-20250514")
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.backoff_base", "1s")
	v.SetDefault("llm.timeout", "180s")

	// Mathpix默认配置
	v.SetDefault("mathpix.endpoint", "https://api.mathpix.com/v3/text")
	v.SetDefault("mathpix.max_retries", 3)
	v.SetDefault("mathpix.backoff_base", "1s")
	v.SetDefault("mathpix.timeout", "60s")
	v.SetDefault("mathpix.cooldown", "500ms")

	// 本地OCR默认配置
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.cache", true)

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data/files")
	v.SetDefault("storage.bucket", "satparser")
	v.SetDefault("storage.use_ssl", false)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 86400)

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.retry_limit", 1)
	v.SetDefault("queue.retry_delay", 60)

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/satparser.db")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}
