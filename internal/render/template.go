package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Engine renders notification templates with helper functions.
type Engine struct{}

// TemplateContext provides data for template execution.
type TemplateContext struct {
	Secrets map[string]string
	Data    map[string]interface{}
}

// New creates a new template engine.
func New() *Engine {
	return &Engine{}
}

// RenderString renders the provided template string with context.
func (e *Engine) RenderString(tmpl string, ctx TemplateContext) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	t, err := template.New("tpl").Option("missingkey=error").Funcs(template.FuncMap{
		"secret": func(key string) (string, error) {
			if ctx.Secrets == nil {
				return "", fmt.Errorf("no secrets available")
			}
			val, ok := ctx.Secrets[key]
			if !ok {
				return "", fmt.Errorf("secret %q not found", key)
			}
			return val, nil
		},
		"to_json": func(v interface{}) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
		"upper": strings.ToUpper,
		"join":  strings.Join,
	}).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx.Data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// RenderMap applies templates to each value in a map.
func (e *Engine) RenderMap(values map[string]string, ctx TemplateContext) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for key, val := range values {
		rendered, err := e.RenderString(val, ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = rendered
	}
	return out, nil
}
