package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const defaultMathpixEndpoint = "https://api.mathpix.com/v3/text"

// MathpixConfig Mathpix客户端配置
type MathpixConfig struct {
	AppID       string
	AppKey      string
	Endpoint    string
	MaxRetries  int           // 总尝试次数
	BackoffBase time.Duration // 第n次重试前等待 BackoffBase * 2^n
	Timeout     time.Duration
	Cooldown    time.Duration // 相邻请求（包括重试）的最小间隔，0表示不限制
	Logger      *logrus.Logger
}

// MathpixOptions 请求中的options_json
type MathpixOptions struct {
	Formats          []string           `json:"formats"`
	DataOptions      MathpixDataOptions `json:"data_options"`
	IncludeSmiles    bool               `json:"include_smiles"`
	EnableTables     bool               `json:"enable_tables"`
	IncludeTables    bool               `json:"include_tables"`
	IncludeImageData bool               `json:"include_image_data"`
}

// MathpixDataOptions 返回数据的附加格式
type MathpixDataOptions struct {
	IncludeAsciimath bool `json:"include_asciimath"`
	IncludeLatex     bool `json:"include_latex"`
}

// DefaultMathpixOptions 与SAT试卷匹配的默认请求选项
func DefaultMathpixOptions() MathpixOptions {
	return MathpixOptions{
		Formats:          []string{"text", "latex_styled"},
		DataOptions:      MathpixDataOptions{IncludeAsciimath: false, IncludeLatex: true},
		IncludeSmiles:    false,
		EnableTables:     true,
		IncludeTables:    true,
		IncludeImageData: true,
	}
}

// MathpixResult 服务返回的识别结果
// Images字段会被解析但不参与后续处理，页面图片由PDF本身提供
type MathpixResult struct {
	Text        string         `json:"text"`
	LatexStyled string         `json:"latex_styled"`
	Confidence  float64        `json:"confidence"`
	Images      []MathpixImage `json:"images"`
	Error       string         `json:"error"`
	ErrorInfo   *struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"error_info"`
}

// MathpixImage 结果中的子图片
type MathpixImage struct {
	Data string `json:"data"`
}

// Content 优先返回latex_styled，没有时返回text
func (r *MathpixResult) Content() string {
	if s := strings.TrimSpace(r.LatexStyled); s != "" {
		return s
	}
	return strings.TrimSpace(r.Text)
}

// MathpixEngine 调用Mathpix v3/text接口的数学识别
type MathpixEngine struct {
	config     MathpixConfig
	options    MathpixOptions
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewMathpixEngine 创建Mathpix引擎
// 凭证缺失时返回ErrUnavailable，调用方据此只使用文字识别
func NewMathpixEngine(cfg MathpixConfig) (*MathpixEngine, error) {
	if cfg.AppID == "" || cfg.AppKey == "" {
		return nil, fmt.Errorf("mathpix credentials not configured: %w", ErrUnavailable)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultMathpixEndpoint
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	engine := &MathpixEngine{
		config:     cfg,
		options:    DefaultMathpixOptions(),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	if cfg.Cooldown > 0 {
		engine.limiter = rate.NewLimiter(rate.Every(cfg.Cooldown), 1)
	}
	return engine, nil
}

// Name 返回引擎名称
func (e *MathpixEngine) Name() string {
	return "mathpix"
}

// Recognize 识别图片，返回latex_styled或text
func (e *MathpixEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	result, err := e.Process(ctx, image)
	if err != nil {
		return "", err
	}
	return result.Content(), nil
}

// Process 发送识别请求，带指数退避重试
// 设置了Cooldown时每次发送前先等待限流器
func (e *MathpixEngine) Process(ctx context.Context, image []byte) (*MathpixResult, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := e.config.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, &ServiceError{Engine: e.Name(), Attempts: attempt, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, &ServiceError{Engine: e.Name(), Attempts: attempt, Err: err}
			}
		}

		result, status, err := e.send(ctx, image)
		if err == nil {
			return result, nil
		}
		lastErr, lastStatus = err, status

		e.logger.WithFields(logrus.Fields{
			"engine":  e.Name(),
			"attempt": attempt + 1,
			"status":  status,
		}).WithError(err).Warn("Math OCR request failed")

		if !retryableStatus(status) || ctx.Err() != nil {
			return nil, &ServiceError{Engine: e.Name(), Attempts: attempt + 1, StatusCode: status, Err: err}
		}
	}

	return nil, &ServiceError{Engine: e.Name(), Attempts: e.config.MaxRetries, StatusCode: lastStatus, Err: lastErr}
}

// retryableStatus 网络错误（status为0）、429和5xx可以重试
func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// errRejected 服务端在200响应中返回了错误
var errRejected = errors.New("request rejected")

func (e *MathpixEngine) send(ctx context.Context, image []byte) (*MathpixResult, int, error) {
	body, contentType, err := e.encodeRequest(image)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, body)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("app_id", e.config.AppID)
	req.Header.Set("app_key", e.config.AppKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status: %s", truncate(string(data), 200))
	}

	var result MathpixResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, http.StatusUnprocessableEntity, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error != "" {
		msg := result.Error
		if result.ErrorInfo != nil && result.ErrorInfo.Message != "" {
			msg = result.ErrorInfo.Message
		}
		return nil, http.StatusUnprocessableEntity, fmt.Errorf("%w: %s", errRejected, msg)
	}
	return &result, resp.StatusCode, nil
}

// encodeRequest 构造multipart请求体：file + options_json
func (e *MathpixEngine) encodeRequest(image []byte) (io.Reader, string, error) {
	options, err := json.Marshal(e.options)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal options: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="page.png"`)
	header.Set("Content-Type", "image/png")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("options_json", string(options)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
