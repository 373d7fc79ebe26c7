// Package prompt 渲染发送给结构化模型的指令
package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/fyerfyer/sat-parser/internal/chunk"
)

// ErrEmptyPayload 载荷为空，或只有页标记没有正文
var ErrEmptyPayload = errors.New("empty chunk payload")

const questionTemplate = `Analyze the following text extracted from an SAT question paper and format it into a structured JSON output. Extract the following details for each question:
- Question ID (for example - 6ed4df)
- Question text including the complete passage, table (in markdown), etc.
- Options (A, B, C, D, and sometimes E)
- Correct answer (the letter of the correct option)
- Rationale (why the correct answer is right and the other options are incorrect, when provided)
- Test (if available, otherwise use "Not specified")
- Domain (if available, otherwise use "Not specified")
- Skill (if available, otherwise use "Not specified")
- Difficulty (if available, otherwise use "Not specified")
- Image path (the [[IMAGE_n]] token of the figure the question depends on, otherwise "")

Format the extracted information into a JSON structure as follows:

{
  "questions": [
    {
      "question_id": "6ed4qc",
      "question_text": "The human brain is primed to recognize faces, so much so that, due to a perceptual tendency called pareidolia, ______ will even find faces in clouds, wooden doors, pieces of fruit, and other faceless inanimate objects. Which choice completes the text so that it conforms to the conventions of Standard English?",
      "options": [
        {"label": "A", "text": "she"},
        {"label": "B", "text": "they"},
        {"label": "C", "text": "it"},
        {"label": "D", "text": "those"}
      ],
      "correct_answer": "C",
      "rationale": "Choice C is the best answer. \"It\" is a singular pronoun used to stand in for objects. Choice A is incorrect. \"She\" is reserved for people and animals. Choice B is incorrect. \"They\" is plural. Choice D is incorrect. \"Those\" is plural.",
      "test": "Reading and Writing",
      "domain": "Standard English Conventions",
      "skill": "Form, Structure, and Sense",
      "difficulty": "Medium",
      "image_path": ""
    }
  ]
}

Image OCR mapping:
{{.Mapping}}

Here's the text to process ({{.Pages}}):

{{.Text}}

Important instructions:
- Your response should contain ONLY the JSON output, nothing else.
- Process ALL questions in the input text.
- Ensure the JSON is properly formatted and can be parsed by a JSON parser.
- Use double quotes for all strings in the JSON.
- Escape any special characters in the text that might break the JSON structure, including backslashes in LaTeX.
- If a question doesn't have a clear test, skill, domain, or difficulty, use "Not specified" as the value.
- If a question or an answer choice relies on a figure, graph, or table image, use its [[IMAGE_n]] token as the value. If no token applies, use "needs image".
- Do not include any commentary or explanations outside the JSON structure.
`

// Builder 渲染固定模板，相同载荷总是得到相同的指令
type Builder struct {
	tmpl *template.Template
}

type templateData struct {
	Mapping string
	Pages   string
	Text    string
}

// NewBuilder 创建指令渲染器
func NewBuilder() *Builder {
	return &Builder{
		tmpl: template.Must(template.New("questions").Parse(questionTemplate)),
	}
}

// Build 把分块正文与图片识别映射填入模板
func (b *Builder) Build(p *chunk.Payload) (string, error) {
	if p == nil || p.Blank || strings.TrimSpace(p.Text) == "" {
		return "", ErrEmptyPayload
	}

	mapping, err := encodeMapping(p.ImageText)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = b.tmpl.Execute(&buf, templateData{
		Mapping: mapping,
		Pages:   p.Range.String(),
		Text:    p.Text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}

// encodeMapping 按键排序输出，保持原样的 < > & 字符
func encodeMapping(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("failed to encode image mapping: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
