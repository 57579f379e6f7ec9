package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/report.html
var templateFS embed.FS

var (
	md   = goldmark.New(goldmark.WithExtensions(extension.Table))
	page = template.Must(template.ParseFS(templateFS, "templates/report.html"))
)

// Markdown converts a Markdown report into an HTML fragment. Raw HTML in the
// input is not passed through.
func Markdown(markdown string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return template.HTML(buf.String()), nil //nolint: gosec
}

// RenderHTML converts a Markdown report into a standalone HTML page.
func RenderHTML(title, markdown string) ([]byte, error) {
	body, err := Markdown(markdown)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	err = page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{title, body})
	if err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return out.Bytes(), nil
}
