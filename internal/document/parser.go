package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrPageOutOfRange 页码超出文档范围
var ErrPageOutOfRange = errors.New("page index out of range")

// ErrDocumentClosed 文档已关闭
var ErrDocumentClosed = errors.New("document already closed")

// DocumentOpenError 文档无法打开（不是有效的PDF）
// 这是整次转换的致命错误
type DocumentOpenError struct {
	Source string // 文档来源（文件路径或"memory"）
	Err    error  // 底层错误
}

// Error 实现error接口
func (e *DocumentOpenError) Error() string {
	return fmt.Sprintf("failed to open document %s: %v", e.Source, e.Err)
}

// Unwrap 返回底层错误
func (e *DocumentOpenError) Unwrap() error {
	return e.Err
}

// PageError 单页读取失败，其余页面不受影响
type PageError struct {
	Index int // 页码，从0开始
	Err   error
}

func (e *PageError) Error() string {
	return e.Err.Error()
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// FailedPages 取出Pages返回错误中读取失败的页码，从0开始
func FailedPages(err error) []int {
	var out []int
	var walk func(error)
	walk = func(err error) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		var pe *PageError
		if errors.As(err, &pe) {
			out = append(out, pe.Index)
		}
	}
	if err != nil {
		walk(err)
	}
	return out
}

// Document 一个已打开的PDF文档
// 由一次转换独占，结束时必须调用Close
type Document struct {
	data      []byte         // 原始字节
	path      string         // 源文件路径（从内存打开时为空）
	tempPath  string         // 渲染整页时写出的临时文件
	ctx       *model.Context // pdfcpu上下文，用于图片和内容流
	reader    *pdf.Reader    // 带坐标的文本提取
	pageCount int
	closed    bool
}

// Open 从字节打开PDF文档
func Open(data []byte) (*Document, error) {
	return open(data, "memory")
}

// OpenFile 从文件路径打开PDF文档
func OpenFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DocumentOpenError{Source: path, Err: err}
	}
	doc, err := open(data, path)
	if err != nil {
		return nil, err
	}
	doc.path = path
	return doc, nil
}

func open(data []byte, source string) (*Document, error) {
	if len(data) == 0 {
		return nil, &DocumentOpenError{Source: source, Err: errors.New("empty input")}
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, &DocumentOpenError{Source: source, Err: err}
	}

	reader, err := newTextReader(data)
	if err != nil {
		return nil, &DocumentOpenError{Source: source, Err: err}
	}

	return &Document{
		data:      data,
		ctx:       ctx,
		reader:    reader,
		pageCount: ctx.PageCount,
	}, nil
}

// newTextReader 创建文本读取器，库内部的panic转换为错误
func newTextReader(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("text reader panic: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// PageCount 返回文档页数
func (d *Document) PageCount() int {
	return d.pageCount
}

// Page 提取单页内容，index从0开始
// 超出范围时返回ErrPageOutOfRange
func (d *Document) Page(index int) (*Page, error) {
	if d.closed {
		return nil, ErrDocumentClosed
	}
	if index < 0 || index >= d.pageCount {
		return nil, ErrPageOutOfRange
	}
	pageNr := index + 1

	runs, err := d.textRuns(pageNr)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageNr, err)
	}

	images, err := d.pageImages(pageNr)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageNr, err)
	}

	page := &Page{
		Index:  index,
		Blocks: groupBlocks(runs),
		Images: images,
	}
	return page, nil
}

// Pages 提取[start, end)范围内的页面
// 超出文档长度的页码被直接跳过；单页读取失败不中断，失败的页以*PageError合并在返回的错误中
func (d *Document) Pages(start, end int) ([]*Page, error) {
	if d.closed {
		return nil, ErrDocumentClosed
	}
	if start < 0 {
		start = 0
	}
	var pages []*Page
	var errs []error
	for i := start; i < end; i++ {
		page, err := d.Page(i)
		if errors.Is(err, ErrPageOutOfRange) {
			continue
		}
		if err != nil {
			errs = append(errs, &PageError{Index: i, Err: err})
			continue
		}
		pages = append(pages, page)
	}
	return pages, errors.Join(errs...)
}

// Close 释放文档资源，可以重复调用
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.ctx = nil
	d.reader = nil
	d.data = nil

	if d.tempPath != "" {
		err := os.Remove(d.tempPath)
		d.tempPath = ""
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove temp file: %w", err)
		}
	}
	return nil
}

// Closed 文档是否已关闭
func (d *Document) Closed() bool {
	return d.closed
}

// pageImages 提取页面中的嵌入图片，按页面位置从上到下排序
func (d *Document) pageImages(pageNr int) ([]Image, error) {
	raw, err := extractImages(d.ctx, pageNr)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	placements := d.placements(pageNr)

	images := make([]Image, 0, len(raw))
	for _, r := range raw {
		img := Image{
			Page:   pageNr - 1,
			Name:   r.name,
			Format: r.format,
			Data:   r.data,
		}
		if converted, err := NormalizeRGB(r.data); err == nil {
			img.Data = converted
			img.Format = "png"
		}
		if p, ok := placements[r.name]; ok {
			img.Top = p.top
			img.Bottom = p.bottom
			img.Placed = true
		}
		images = append(images, img)
	}

	// 有位置的在前，按顶部从高到低；没有位置的保持对象号顺序排在最后
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].Placed != images[j].Placed {
			return images[i].Placed
		}
		if !images[i].Placed {
			return false
		}
		return images[i].Top > images[j].Top
	})

	for i := range images {
		images[i].Seq = i + 1
	}
	return images, nil
}
