package document

import (
	"bytes"
	"math"
	"strconv"
)

// placement 图片在页面上的绘制位置
type placement struct {
	top    float64
	bottom float64
}

// matrix PDF变换矩阵 [a b c d e f]
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// multiply 计算 m × n
func (m matrix) multiply(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// verticalExtent 单位正方形经过变换后的纵向范围
func (m matrix) verticalExtent() (top, bottom float64) {
	top, bottom = math.Inf(-1), math.Inf(1)
	for _, p := range [][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		y := m[1]*p[0] + m[3]*p[1] + m[5]
		top = math.Max(top, y)
		bottom = math.Min(bottom, y)
	}
	return top, bottom
}

// scanPlacements 扫描内容流中的 q/Q/cm/Do 操作符
// 只记录每个资源第一次出现的位置
func scanPlacements(content []byte) map[string]placement {
	result := make(map[string]placement)
	s := &scanner{data: content}

	ctm := identity
	var stack []matrix
	var operands []float64
	var lastName string

	for {
		tok, kind := s.next()
		switch kind {
		case tokEOF:
			return result
		case tokNumber:
			if v, err := strconv.ParseFloat(tok, 64); err == nil {
				operands = append(operands, v)
			}
			continue
		case tokName:
			lastName = tok
			continue
		case tokOther:
			continue
		}

		switch tok {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if n := len(stack); n > 0 {
				ctm = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			if n := len(operands); n >= 6 {
				var m matrix
				copy(m[:], operands[n-6:])
				ctm = m.multiply(ctm)
			}
		case "Do":
			if lastName != "" {
				if _, seen := result[lastName]; !seen {
					top, bottom := ctm.verticalExtent()
					result[lastName] = placement{top: top, bottom: bottom}
				}
			}
		case "ID":
			s.skipInlineImage()
		}
		operands = operands[:0]
		lastName = ""
	}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokName
	tokOperator
	tokOther
)

// scanner 内容流的极简词法分析器
type scanner struct {
	data []byte
	pos  int
}

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	return bytes.IndexByte([]byte("()<>[]{}/%"), c) >= 0
}

func (s *scanner) next() (string, tokenKind) {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isWhitespace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		case c == '(':
			s.skipString()
			return "", tokOther
		case c == '<':
			if s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
				s.pos += 2
				return "<<", tokOther
			}
			for s.pos < len(s.data) && s.data[s.pos] != '>' {
				s.pos++
			}
			s.pos++
			return "", tokOther
		case c == '>':
			s.pos++
			if s.pos < len(s.data) && s.data[s.pos] == '>' {
				s.pos++
			}
			return ">>", tokOther
		case c == '[' || c == ']' || c == '{' || c == '}':
			s.pos++
			return string(c), tokOther
		case c == '/':
			s.pos++
			start := s.pos
			for s.pos < len(s.data) && !isWhitespace(s.data[s.pos]) && !isDelimiter(s.data[s.pos]) {
				s.pos++
			}
			return string(s.data[start:s.pos]), tokName
		default:
			start := s.pos
			for s.pos < len(s.data) && !isWhitespace(s.data[s.pos]) && !isDelimiter(s.data[s.pos]) {
				s.pos++
			}
			if start == s.pos {
				s.pos++
				continue
			}
			tok := string(s.data[start:s.pos])
			if isNumber(tok) {
				return tok, tokNumber
			}
			return tok, tokOperator
		}
	}
	return "", tokEOF
}

// skipString 跳过字面字符串，处理嵌套括号和转义
func (s *scanner) skipString() {
	depth := 0
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			s.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

// skipInlineImage 跳过 ID 与 EI 之间的二进制数据
func (s *scanner) skipInlineImage() {
	for s.pos+2 < len(s.data) {
		if isWhitespace(s.data[s.pos]) && s.data[s.pos+1] == 'E' && s.data[s.pos+2] == 'I' &&
			(s.pos+3 == len(s.data) || isWhitespace(s.data[s.pos+3])) {
			s.pos += 3
			return
		}
		s.pos++
	}
	s.pos = len(s.data)
}

func isNumber(tok string) bool {
	if tok == "" {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if (c < '0' || c > '9') && c != '.' && c != '-' && c != '+' {
			return false
		}
	}
	return true
}
