package document

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// 同一行内两个字形的纵向容差（相对字号）
	lineTolerance = 0.3
	// 两行间距超过该倍数的字号时拆成新的文本块
	blockGapFactor = 1.8
	// 水平间距超过该倍数的字号时补一个空格
	wordGapFactor = 0.2
)

// textRuns 读取页面中带坐标的文本片段
func (d *Document) textRuns(pageNr int) (runs []pdf.Text, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("text extraction panic: %v", p)
		}
	}()

	page := d.reader.Page(pageNr)
	if page.V.IsNull() {
		return nil, nil
	}
	return page.Content().Text, nil
}

type textLine struct {
	y    float64
	size float64
	runs []pdf.Text
}

func (l *textLine) text() string {
	sort.SliceStable(l.runs, func(i, j int) bool {
		return l.runs[i].X < l.runs[j].X
	})

	var sb strings.Builder
	prevEnd := math.Inf(-1)
	for _, r := range l.runs {
		if sb.Len() > 0 && r.X-prevEnd > l.size*wordGapFactor {
			s := sb.String()
			if !strings.HasSuffix(s, " ") && !strings.HasPrefix(r.S, " ") {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(r.S)
		prevEnd = r.X + r.W
	}
	return strings.TrimRight(sb.String(), " ")
}

// groupBlocks 把文本片段合并成行，再把相邻的行合并成文本块
// 返回结果按从上到下排序
func groupBlocks(runs []pdf.Text) []TextBlock {
	if len(runs) == 0 {
		return nil
	}

	sorted := make([]pdf.Text, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Y > sorted[j].Y
	})

	var lines []*textLine
	for _, r := range sorted {
		size := r.FontSize
		if size <= 0 {
			size = 1
		}
		if n := len(lines); n > 0 {
			last := lines[n-1]
			if math.Abs(last.y-r.Y) <= math.Max(1, last.size*lineTolerance) {
				last.runs = append(last.runs, r)
				if size > last.size {
					last.size = size
				}
				continue
			}
		}
		lines = append(lines, &textLine{y: r.Y, size: size, runs: []pdf.Text{r}})
	}

	var blocks []TextBlock
	var current *TextBlock
	var currentLines []string
	prevY, prevSize := 0.0, 0.0

	flush := func() {
		if current != nil && len(currentLines) > 0 {
			current.Text = strings.Join(currentLines, "\n")
			blocks = append(blocks, *current)
		}
		current = nil
		currentLines = nil
	}

	for _, line := range lines {
		text := line.text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if current != nil && prevY-line.y > math.Max(prevSize, line.size)*blockGapFactor {
			flush()
		}
		if current == nil {
			current = &TextBlock{Top: line.y + line.size}
		}
		current.Bottom = line.y
		currentLines = append(currentLines, text)
		prevY, prevSize = line.y, line.size
	}
	flush()

	return blocks
}
