// Package prompt loads and renders the named prompt templates the annotation
// tasks are driven by. Templates ship embedded in the binary; an on-disk
// directory can override them for prompt iteration without a rebuild.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*.md
var templatesFS embed.FS

// TemplateError reports a rendering failure: an unknown template or a
// required variable missing from the render data. It is a configuration
// defect, fatal for the affected unit and never retried.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("prompt template %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Renderer renders named templates with strict variable checking.
type Renderer struct {
	overrideDir string
}

// NewRenderer creates a Renderer. overrideDir may be empty; when set, a file
// named {template}.md inside it takes precedence over the embedded copy.
func NewRenderer(overrideDir string) *Renderer {
	return &Renderer{overrideDir: overrideDir}
}

// Render fills the named template with vars. Any reference to a variable
// absent from vars fails with a TemplateError.
func (r *Renderer) Render(name string, vars map[string]any) (string, error) {
	raw, err := r.load(name)
	if err != nil {
		return "", &TemplateError{Template: name, Err: err}
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", &TemplateError{Template: name, Err: err}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", &TemplateError{Template: name, Err: err}
	}
	return sb.String(), nil
}

func (r *Renderer) load(name string) (string, error) {
	filename := name + ".md"
	if r.overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(r.overrideDir, filename))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
	data, err := templatesFS.ReadFile("templates/" + filename)
	if err != nil {
		return "", fmt.Errorf("unknown template")
	}
	return string(data), nil
}
