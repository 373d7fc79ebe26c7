package reply

import "strings"

// RepairEscapes 修复字符串字面量中的非法内容
//   - 不构成合法转义的反斜杠被加倍，例如 \q 变为 \\q、\frac 中的 \f 保持为合法转义
//   - 字符串内的裸换行、回车、制表符被转义
//
// 字符串之外的内容原样保留
func RepairEscapes(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 16)

	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			sb.WriteByte(c)
			continue
		}

		switch c {
		case '"':
			inString = false
			sb.WriteByte(c)
		case '\\':
			if n := validEscapeLen(s[i:]); n > 0 {
				sb.WriteString(s[i : i+n])
				i += n - 1
			} else {
				sb.WriteString(`\\`)
			}
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// validEscapeLen 以反斜杠开头的合法转义序列长度，不合法时返回0
func validEscapeLen(s string) int {
	if len(s) < 2 {
		return 0
	}
	switch s[1] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return 2
	case 'u':
		if len(s) < 6 {
			return 0
		}
		for _, h := range s[2:6] {
			if !isHex(h) {
				return 0
			}
		}
		return 6
	}
	return 0
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
