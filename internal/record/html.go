package record

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown 把记录渲染成Markdown，题干中的表格保持原样
func Markdown(records []QuestionRecord) string {
	var sb strings.Builder
	for i := range records {
		r := &records[i]
		fmt.Fprintf(&sb, "## Question %s\n\n", r.QuestionID)
		sb.WriteString(r.QuestionText)
		sb.WriteString("\n\n")
		for _, c := range r.Choices {
			if c.Label != "" {
				fmt.Fprintf(&sb, "- **%s** %s\n", c.Label, c.Text)
			} else {
				fmt.Fprintf(&sb, "- %s\n", c.Text)
			}
		}
		if len(r.Choices) > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "**Answer:** %s\n\n", r.CorrectAnswer)
		if r.Rationale != "" {
			fmt.Fprintf(&sb, "%s\n\n", r.Rationale)
		}
		fmt.Fprintf(&sb, "*%s / %s / %s / %s*\n\n", r.Test, r.Domain, r.Skill, r.Difficulty)
		if r.ImagePath != "" {
			fmt.Fprintf(&sb, "Image: `%s`\n\n", r.ImagePath)
		}
		sb.WriteString("---\n\n")
	}
	return sb.String()
}

// RenderHTML 生成预览HTML，模型输出中的原始HTML会被丢弃
func RenderHTML(records []QuestionRecord) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	doc := parser.NewWithExtensions(extensions).Parse([]byte(Markdown(records)))

	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank | html.SkipHTML,
	})
	return markdown.Render(doc, renderer)
}
