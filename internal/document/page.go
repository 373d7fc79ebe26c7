package document

import (
	"math"
	"sort"
	"strings"
)

// Page 单页提取结果
type Page struct {
	Index  int         // 页码，从0开始
	Blocks []TextBlock // 文本块，按阅读顺序（从上到下）
	Images []Image     // 嵌入图片，按页面位置排序
}

// TextBlock 带位置的文本块
// 坐标使用PDF用户空间，数值越大越靠上
type TextBlock struct {
	Text   string
	Top    float64
	Bottom float64
}

// Image 页面中的嵌入图片
type Image struct {
	Page   int     // 所在页码，从0开始
	Seq    int     // 页内序号，从1开始
	Name   string  // 资源名
	Format string  // 数据格式，转换成功时为png
	Data   []byte  // 图片字节
	Top    float64 // 顶边位置
	Bottom float64 // 底边位置
	Placed bool    // 是否在内容流中找到了位置
}

// ElementKind 页面元素类型
type ElementKind int

const (
	// ElementText 文本块
	ElementText ElementKind = iota
	// ElementImage 图片
	ElementImage
)

// Element 页面元素，文本块或图片之一
type Element struct {
	Kind  ElementKind
	Block *TextBlock
	Image *Image
	top   float64
}

// Text 返回页面的纯文本，按阅读顺序
func (p *Page) Text() string {
	parts := make([]string, 0, len(p.Blocks))
	for _, b := range p.Blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}

// Elements 将文本块和图片按垂直位置交错排列
// 没有位置信息的图片放在页面末尾
func (p *Page) Elements() []Element {
	elements := make([]Element, 0, len(p.Blocks)+len(p.Images))
	for i := range p.Blocks {
		elements = append(elements, Element{
			Kind:  ElementText,
			Block: &p.Blocks[i],
			top:   p.Blocks[i].Top,
		})
	}
	for i := range p.Images {
		top := p.Images[i].Top
		if !p.Images[i].Placed {
			top = math.Inf(-1)
		}
		elements = append(elements, Element{
			Kind:  ElementImage,
			Image: &p.Images[i],
			top:   top,
		})
	}

	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].top > elements[j].top
	})
	return elements
}
