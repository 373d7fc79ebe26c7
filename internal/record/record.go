// Package record 把模型返回的题目对象整理成统一的表格行
package record

import (
	"fmt"
	"strings"
)

const (
	// NotSpecified 元数据缺失时的占位值
	NotSpecified = "Not specified"
	// NeedsImage 图片引用无法解析时的占位值
	NeedsImage = "needs image"
)

// Columns CSV列，顺序固定
var Columns = []string{
	"question_id",
	"question_text",
	"choices",
	"correct_answer",
	"rationale",
	"test",
	"domain",
	"skill",
	"difficulty",
	"image_path",
}

// Choice 一个选项
type Choice struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// QuestionRecord 一道题的输出记录，追加到结果表后不再修改
type QuestionRecord struct {
	QuestionID    string   `json:"question_id"`
	QuestionText  string   `json:"question_text"`
	Choices       []Choice `json:"choices"`
	CorrectAnswer string   `json:"correct_answer"`
	Rationale     string   `json:"rationale"`
	Test          string   `json:"test"`
	Domain        string   `json:"domain"`
	Skill         string   `json:"skill"`
	Difficulty    string   `json:"difficulty"`
	ImagePath     string   `json:"image_path"`
}

// ChoicesString 选项展平为 "A: x; B: y"
func (r *QuestionRecord) ChoicesString() string {
	parts := make([]string, 0, len(r.Choices))
	for _, c := range r.Choices {
		if c.Label == "" {
			parts = append(parts, c.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", c.Label, c.Text))
	}
	return strings.Join(parts, "; ")
}

// Values 按列名返回字段值
func (r *QuestionRecord) Values() map[string]string {
	return map[string]string{
		"question_id":    r.QuestionID,
		"question_text":  r.QuestionText,
		"choices":        r.ChoicesString(),
		"correct_answer": r.CorrectAnswer,
		"rationale":      r.Rationale,
		"test":           r.Test,
		"domain":         r.Domain,
		"skill":          r.Skill,
		"difficulty":     r.Difficulty,
		"image_path":     r.ImagePath,
	}
}

// Row 按给定表头输出一行，未知列为空
func (r *QuestionRecord) Row(header []string) []string {
	values := r.Values()
	row := make([]string, len(header))
	for i, col := range header {
		row[i] = values[col]
	}
	return row
}
