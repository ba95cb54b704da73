package generate

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"text/template"
	"time"
)

//go:embed templates/*.md.tmpl
var templateFS embed.FS

var documentTemplates = template.Must(
	template.New("documents").Option("missingkey=error").ParseFS(templateFS, "templates/*.md.tmpl"),
)

// templateData is the closed set of fields a document template may use.
type templateData struct {
	Title   string
	Number  int
	Body    string
	Created string
}

// Template renders the built-in document for a stage. It never declines.
type Template struct {
	now func() time.Time
}

// NewTemplate returns the built-in template generator.
func NewTemplate() *Template {
	return &Template{now: time.Now}
}

// Name implements Generator.
func (t *Template) Name() string { return BackendTemplate }

// Generate implements Generator.
func (t *Template) Generate(_ context.Context, req Request) (string, error) {
	if _, ok := req.Stage.DocumentType(); !ok {
		return "", fmt.Errorf("no template for stage %q", req.Stage)
	}
	data := templateData{
		Title:   req.Issue.Title,
		Number:  req.Issue.Number,
		Body:    req.Issue.Body,
		Created: t.now().Format("2006-01-02"),
	}
	var buf bytes.Buffer
	if err := documentTemplates.ExecuteTemplate(&buf, string(req.Stage)+".md.tmpl", data); err != nil {
		return "", fmt.Errorf("render %s template: %w", req.Stage, err)
	}
	return buf.String(), nil
}
