// Package reply 从模型回复中提取并修复JSON
package reply

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

// ErrRecoveryFailed 回复中没有可用的题目JSON
var ErrRecoveryFailed = errors.New("failed to recover JSON from reply")

// QuestionsKey 题目数组所在的键
const QuestionsKey = "questions"

var (
	fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n?(.*?)```")
	bracePattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// Clean 去掉回复外层的说明文字和代码块标记，返回JSON候选
// 有代码块时取代码块内容，否则取第一个左花括号到最后一个右花括号
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := bracePattern.FindString(s); m != "" {
		return m
	}
	return s
}

// Recover 依次尝试严格解析、修复转义后解析、宽松解析
func Recover(s string) (any, error) {
	candidate := Clean(s)
	if candidate == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrRecoveryFailed)
	}

	v, err := parseStrict(candidate)
	if err == nil {
		return v, nil
	}

	if needsRepair(err) {
		repaired := RepairEscapes(candidate)
		if v, rerr := parseStrict(repaired); rerr == nil {
			return v, nil
		}
		candidate = repaired
	}

	var lenient any
	if lerr := json5.Unmarshal([]byte(candidate), &lenient); lerr == nil {
		return lenient, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
}

// Parse 恢复JSON并取出题目数组
func Parse(s string) ([]map[string]any, error) {
	v, err := Recover(s)
	if err != nil {
		return nil, err
	}
	return Questions(v)
}

// Questions 校验结构：顶层必须是对象，包含一个由对象组成的数组
// 优先使用questions键，否则取按键名排序的第一个对象数组
func Questions(v any) ([]map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, want object", ErrRecoveryFailed, v)
	}

	if raw, ok := obj[QuestionsKey]; ok {
		return objectArray(raw)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if items, err := objectArray(obj[k]); err == nil && len(items) > 0 {
			return items, nil
		}
	}
	return nil, fmt.Errorf("%w: no %q array in reply", ErrRecoveryFailed, QuestionsKey)
}

func objectArray(raw any) ([]map[string]any, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T, want array", ErrRecoveryFailed, QuestionsKey, raw)
	}
	items := make([]map[string]any, 0, len(arr))
	for i, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: item %d is %T, want object", ErrRecoveryFailed, i, item)
		}
		items = append(items, m)
	}
	return items, nil
}

func parseStrict(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// needsRepair 错误是否由字符串中的非法转义或裸控制字符引起
func needsRepair(err error) bool {
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return false
	}
	msg := syntaxErr.Error()
	return strings.Contains(msg, "in string escape code") || strings.Contains(msg, "in string literal")
}
