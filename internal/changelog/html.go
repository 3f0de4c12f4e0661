package changelog

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	mdhtml "github.com/yuin/goldmark/renderer/html"
)

// MarkdownRenderer converts comment markdown into safe HTML.
type MarkdownRenderer interface {
	Render(markdown string) (template.HTML, error)
}

type markdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdownRenderer returns the renderer used for comments.
func NewMarkdownRenderer() MarkdownRenderer {
	return &markdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(mdhtml.WithUnsafe()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

func (r *markdownRenderer) Render(markdown string) (template.HTML, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	sanitized := r.policy.SanitizeBytes(buf.Bytes())
	return template.HTML(sanitized), nil // #nosec G203 - sanitized by bluemonday
}
