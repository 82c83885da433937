package content

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/markup"
)

var answerTemplate = template.Must(template.New("answer").Parse(`# {{.Title}}

## TL;DR

这是一个关于{{.Topic}}的技术分析，从原理、实践和取舍三个方面展开。

## 一、问题背景

{{.Topic}}是当前软件工程领域被频繁讨论的话题，理解它的前提是弄清楚它要解决的问题。

## 二、技术分析

- **核心原理**：先明确约束，再讨论方案。
- **架构设计**：按职责分层，保持边界清晰。
- **关键细节**：关注失败路径和可观测性。

## 三、实践建议

> 先让它正确，再让它快。

` + "```" + `text
问题 -> 约束 -> 方案 -> 验证
` + "```" + `

## 四、总结

围绕{{.Topic}}，最重要的是结合自身场景做出可验证的判断。
{{if .Tags}}
相关话题：{{.Tags}}
{{end}}
生成时间：{{.Generated}}
`))

// TemplateSource renders a structured answer skeleton from the question.
type TemplateSource struct {
	now func() time.Time
}

// NewTemplateSource creates a template source using the wall clock.
func NewTemplateSource() *TemplateSource {
	return &TemplateSource{now: time.Now}
}

func (s *TemplateSource) Name() string { return "template" }

func (s *TemplateSource) Document(ctx context.Context, req Request) (schemas.PortableDocument, error) {
	if err := ctx.Err(); err != nil {
		return schemas.PortableDocument{}, err
	}
	title := req.Question.TitleOrURL()
	if title == "" {
		return schemas.PortableDocument{}, fmt.Errorf("%w: the template needs a question title", ErrEmptyContent)
	}
	topic := title
	if len(req.Question.Tags) > 0 {
		topic = req.Question.Tags[0]
	}
	tags := make([]string, 0, 5)
	for i, t := range req.Question.Tags {
		if i == 5 {
			break
		}
		tags = append(tags, "#"+t)
	}

	var buf bytes.Buffer
	err := answerTemplate.Execute(&buf, map[string]string{
		"Title":     title,
		"Topic":     topic,
		"Tags":      strings.Join(tags, " "),
		"Generated": s.now().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return schemas.PortableDocument{}, fmt.Errorf("content: failed to render template: %w", err)
	}
	return markup.Parse(buf.String()), nil
}
