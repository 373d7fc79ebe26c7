package record

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// tokenPattern 匹配 [[IMAGE_n]] 以及模型去掉括号后的 IMAGE_n
var tokenPattern = regexp.MustCompile(`\[\[IMAGE_(\d+)\]\]|\bIMAGE_(\d+)\b`)

// Token 生成第n张图片的引用标记
func Token(n int) string {
	return fmt.Sprintf("[[IMAGE_%d]]", n)
}

// choiceLabels 扁平选项键的后缀顺序
var choiceLabels = []string{"A", "B", "C", "D", "E"}

// Assembler 把题目对象转换为记录
type Assembler struct {
	logger *logrus.Logger
}

// NewAssembler 创建记录组装器
func NewAssembler(logger *logrus.Logger) *Assembler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Assembler{logger: logger}
}

// Assemble 按回复中的顺序生成记录
// paths是本块的 标记→已保存文件位置 映射，键为 [[IMAGE_n]] 形式
func (a *Assembler) Assemble(questions []map[string]any, paths map[string]string) []QuestionRecord {
	records := make([]QuestionRecord, 0, len(questions))
	for _, q := range questions {
		records = append(records, a.assembleOne(q, paths))
	}
	return records
}

func (a *Assembler) assembleOne(q map[string]any, paths map[string]string) QuestionRecord {
	refs := &references{paths: paths}

	rec := QuestionRecord{
		QuestionID:    orDefault(field(q, "question_id", "id"), NotSpecified),
		QuestionText:  refs.resolve(field(q, "question_text", "question", "stem")),
		CorrectAnswer: orDefault(refs.resolve(field(q, "correct_answer", "answer")), NotSpecified),
		Rationale:     refs.resolve(field(q, "rationale", "explanation")),
		Test:          orDefault(field(q, "test", "section"), NotSpecified),
		Domain:        orDefault(field(q, "domain"), NotSpecified),
		Skill:         orDefault(field(q, "skill"), NotSpecified),
		Difficulty:    orDefault(field(q, "difficulty"), NotSpecified),
	}

	for _, c := range choices(q) {
		c.Text = refs.resolve(c.Text)
		rec.Choices = append(rec.Choices, c)
	}

	rec.ImagePath = refs.imagePath(field(q, "image_path", "image"))
	if len(refs.unresolved) > 0 {
		a.logger.WithFields(logrus.Fields{
			"question_id": rec.QuestionID,
			"tokens":      refs.unresolved,
		}).Debug("Unresolved image references")
	}
	return rec
}

// references 记录一道题引用过的图片
type references struct {
	paths      map[string]string
	resolved   []string
	unresolved []string
}

// resolve 替换文本中的图片标记：能解析的换成文件位置，否则换成占位值
func (r *references) resolve(text string) string {
	if text == "" {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		token := canonicalToken(match)
		if path, ok := r.paths[token]; ok && path != "" {
			r.resolved = appendUnique(r.resolved, path)
			return path
		}
		r.unresolved = appendUnique(r.unresolved, token)
		return NeedsImage
	})
}

// imagePath 计算image_path列
// 显式引用和正文中的引用都计入；有引用但全部无法解析时为占位值
func (r *references) imagePath(raw string) string {
	raw = strings.TrimSpace(raw)
	needsImage := false
	switch {
	case tokenPattern.MatchString(raw):
		r.resolve(raw)
	case r.isKnownPath(raw):
		r.resolved = appendUnique(r.resolved, raw)
	case raw != "" && !isEmptyMarker(raw):
		// 模型给出了无法对应到已保存图片的描述，例如 "needs image" 或 "Figure 1"
		needsImage = true
	}

	if len(r.resolved) > 0 {
		return strings.Join(r.resolved, "; ")
	}
	if needsImage || len(r.unresolved) > 0 {
		return NeedsImage
	}
	return ""
}

func (r *references) isKnownPath(s string) bool {
	if s == "" {
		return false
	}
	for _, p := range r.paths {
		if p == s {
			return true
		}
	}
	return false
}

func canonicalToken(match string) string {
	m := tokenPattern.FindStringSubmatch(match)
	n := m[1]
	if n == "" {
		n = m[2]
	}
	idx, _ := strconv.Atoi(n)
	return Token(idx)
}

// isEmptyMarker 模型用来表示"没有图片"的写法
func isEmptyMarker(s string) bool {
	switch strings.ToLower(s) {
	case strings.ToLower(NotSpecified), "none", "null", "n/a", "-":
		return true
	}
	return false
}

// choices 读取选项，支持 options/choices 数组、choices 对象以及 choice_A..choice_E
func choices(q map[string]any) []Choice {
	for _, key := range []string{"options", "choices"} {
		switch v := q[key].(type) {
		case []any:
			return choiceList(v)
		case map[string]any:
			return choiceMap(v)
		}
	}

	var result []Choice
	for _, label := range choiceLabels {
		if text := field(q, "choice_"+label, "choice_"+strings.ToLower(label)); text != "" {
			result = append(result, Choice{Label: label, Text: text})
		}
	}
	return result
}

func choiceList(items []any) []Choice {
	result := make([]Choice, 0, len(items))
	for i, item := range items {
		var c Choice
		switch v := item.(type) {
		case map[string]any:
			c = Choice{Label: field(v, "label", "letter", "key"), Text: field(v, "text", "value", "content")}
		default:
			c = Choice{Text: stringify(v)}
		}
		if c.Label == "" && i < len(choiceLabels) {
			c.Label = choiceLabels[i]
		}
		result = append(result, c)
	}
	return result
}

func choiceMap(m map[string]any) []Choice {
	labels := make([]string, 0, len(m))
	for k := range m {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	result := make([]Choice, 0, len(labels))
	for _, label := range labels {
		result = append(result, Choice{Label: label, Text: stringify(m[label])})
	}
	return result
}

// field 返回第一个非空字段的字符串形式
func field(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := strings.TrimSpace(stringify(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
