// Package chunk 把文档按页切分成块，并为每块生成发送给模型的文本载荷
package chunk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/sat-parser/internal/document"
	"github.com/fyerfyer/sat-parser/internal/ocr"
	"github.com/fyerfyer/sat-parser/internal/record"
	"github.com/fyerfyer/sat-parser/pkg/storage"
)

// Source 可按页读取的文档
type Source interface {
	PageCount() int
	Pages(start, end int) ([]*document.Page, error)
	RenderPage(ctx context.Context, index, dpi int) ([]byte, error)
}

// Recognizer 图片与整页的文字识别
type Recognizer interface {
	RecognizeImage(ctx context.Context, image []byte) (string, error)
	RecognizePage(ctx context.Context, extracted string, raster ocr.RasterFunc) (string, error)
}

// Payload 一个分块的文本载荷
type Payload struct {
	Index      int                // 分块序号，从0开始
	Total      int                // 分块总数
	Range      document.PageRange // 覆盖的页码区间
	Text       string             // 页面文本与图片标记交错排列的正文
	ImageText  map[string]string  // 标记 -> 图片识别文字，只包含非空结果
	ImagePaths map[string]string  // 标记 -> 图片保存位置
	FileIDs    []string           // 本块保存的图片文件ID
	Tokens     []string           // 本块分配的全部标记，按出现顺序
	Skipped    []int              // 读取失败的页码，从0开始
	Blank      bool               // 所有页面都没有正文和图片
}

// Pages 实际包含的页数
func (p *Payload) Pages() int {
	return p.Range.Len()
}

// Assembler 按顺序产出分块载荷，只能遍历一次
type Assembler struct {
	doc        Source
	recognizer Recognizer
	store      storage.Storage
	ranges     []document.PageRange
	next       int
	chunkSize  int
	dpi        int
	name       string
	rasterize  bool
	rasterSet  bool
	logger     *logrus.Logger
}

// Option 分块器配置项
type Option func(*Assembler)

// WithChunkSize 设置每块页数
func WithChunkSize(size int) Option {
	return func(a *Assembler) {
		a.chunkSize = size
	}
}

// WithDPI 设置整页渲染分辨率
func WithDPI(dpi int) Option {
	return func(a *Assembler) {
		if dpi > 0 {
			a.dpi = dpi
		}
	}
}

// WithName 设置保存图片时使用的文件名前缀
func WithName(name string) Option {
	return func(a *Assembler) {
		a.name = name
	}
}

// WithRasterizer 显式开启或关闭整页渲染
func WithRasterizer(enabled bool) Option {
	return func(a *Assembler) {
		a.rasterize = enabled
		a.rasterSet = true
	}
}

// WithLogger 设置日志
func WithLogger(logger *logrus.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler 创建分块器
// store为nil时不保存图片，所有图片标记都保持未解析
func NewAssembler(doc Source, recognizer Recognizer, store storage.Storage, opts ...Option) *Assembler {
	a := &Assembler{
		doc:        doc,
		recognizer: recognizer,
		store:      store,
		chunkSize:  document.DefaultChunkSize,
		dpi:        300,
		name:       "doc",
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if !a.rasterSet {
		a.rasterize = document.RasterizerAvailable()
		if !a.rasterize {
			a.logger.WithField("binary", document.RasterizerBinary).
				Warn("Page rasterizer not found, page-level math OCR disabled")
		}
	}
	a.ranges = document.SplitPages(doc.PageCount(), a.chunkSize)
	return a
}

// Total 分块总数
func (a *Assembler) Total() int {
	return len(a.ranges)
}

// Next 产出下一个分块，全部产出后返回io.EOF
func (a *Assembler) Next(ctx context.Context) (*Payload, error) {
	if a.next >= len(a.ranges) {
		return nil, io.EOF
	}
	r := a.ranges[a.next]
	index := a.next
	a.next++

	p := &Payload{
		Index:      index,
		Total:      len(a.ranges),
		Range:      r,
		ImageText:  make(map[string]string),
		ImagePaths: make(map[string]string),
	}

	pages, err := a.doc.Pages(r.Start, r.End)
	if err != nil {
		p.Skipped = document.FailedPages(err)
		if len(p.Skipped) == 0 {
			return nil, err
		}
		a.logger.WithFields(logrus.Fields{
			"chunk":   index + 1,
			"skipped": len(p.Skipped),
		}).WithError(err).Warn("Failed to read pages, skipping")
	}

	var parts []string
	filled := 0
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, hasBody := a.renderPage(ctx, p, page)
		parts = append(parts, text)
		if hasBody {
			filled++
		}
	}
	p.Text = strings.Join(parts, "\n\n")
	p.Blank = filled == 0

	a.logger.WithFields(logrus.Fields{
		"chunk":  index + 1,
		"pages":  r.String(),
		"images": len(p.Tokens),
	}).Info("Chunk assembled")
	return p, nil
}

// renderPage 生成单页的文本，文本块与图片标记按纵向位置交错
// 第二个返回值表示页标记之外是否还有内容
func (a *Assembler) renderPage(ctx context.Context, p *Payload, page *document.Page) (string, bool) {
	lines := []string{fmt.Sprintf("=== PAGE %d ===", page.Index+1)}

	var tokens []string
	var body []string
	for _, el := range page.Elements() {
		switch el.Kind {
		case document.ElementText:
			body = append(body, el.Block.Text)
		case document.ElementImage:
			token := a.addImage(ctx, p, el.Image)
			tokens = append(tokens, token)
			body = append(body, token)
		}
	}

	extracted := page.Text()
	text, err := a.recognizer.RecognizePage(ctx, extracted, a.raster(page.Index))
	if err != nil {
		a.logger.WithField("page", page.Index+1).WithError(err).Warn("Page recognition failed, using extracted text")
		text = extracted
	}

	// 识别结果取代了文本层时，位置信息已不可用，图片标记附在文末
	if strings.TrimSpace(text) != strings.TrimSpace(extracted) {
		lines = append(lines, strings.TrimSpace(text))
		lines = append(lines, tokens...)
	} else {
		lines = append(lines, body...)
	}
	hasBody := false
	for _, l := range lines[1:] {
		if strings.TrimSpace(l) != "" {
			hasBody = true
			break
		}
	}
	return strings.Join(lines, "\n"), hasBody
}

// addImage 为图片分配标记，识别文字并保存文件
func (a *Assembler) addImage(ctx context.Context, p *Payload, img *document.Image) string {
	token := record.Token(len(p.Tokens) + 1)
	p.Tokens = append(p.Tokens, token)

	entry := a.logger.WithFields(logrus.Fields{
		"token": token,
		"page":  img.Page + 1,
		"seq":   img.Seq,
	})

	text, err := a.recognizer.RecognizeImage(ctx, img.Data)
	if err != nil {
		entry.WithError(err).Warn("Image recognition failed")
	}
	if text = strings.TrimSpace(text); text != "" {
		p.ImageText[token] = text
	}

	if a.store == nil {
		return token
	}
	info, err := a.store.Save(ctx, bytes.NewReader(img.Data), a.imageName(img))
	if err != nil {
		entry.WithError(err).Warn("Failed to save image, token stays unresolved")
		return token
	}
	p.ImagePaths[token] = info.Location
	p.FileIDs = append(p.FileIDs, info.ID)
	return token
}

func (a *Assembler) imageName(img *document.Image) string {
	ext := img.Format
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s_p%d_%d.%s", a.name, img.Page+1, img.Seq, ext)
}

func (a *Assembler) raster(index int) ocr.RasterFunc {
	if !a.rasterize {
		return nil
	}
	return func(ctx context.Context) ([]byte, error) {
		return a.doc.RenderPage(ctx, index, a.dpi)
	}
}
