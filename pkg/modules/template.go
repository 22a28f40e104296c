package modules

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// TemplateModule renders a Go text/template with the merged plan and
// host variables and places the result at the destination, using the
// same digest comparison as copy. A template that fails to render, or
// whose output still contains unresolved action delimiters, fails
// before anything touches the host.
type TemplateModule struct{}

type templateParams struct {
	Src     string `param:"src"`
	Content string `param:"content"`
	Dest    string `param:"dest"`
	Mode    string `param:"mode"`
	Owner   string `param:"owner"`
	Group   string `param:"group"`
}

// Kind implements the Module interface.
func (m *TemplateModule) Kind() string { return "template" }

// Imperative implements the Module interface.
func (m *TemplateModule) Imperative() bool { return false }

func (m *TemplateModule) render(mc *Context, raw map[string]interface{}) (*templateParams, []byte, error) {
	p := &templateParams{}
	if err := decodeParams(raw, p); err != nil {
		return nil, nil, err
	}
	if p.Dest == "" {
		return nil, nil, fmt.Errorf("template dest is required")
	}
	if (p.Src == "") == (p.Content == "") {
		return nil, nil, fmt.Errorf("template requires exactly one of src or content")
	}

	source := p.Content
	name := "inline"
	if p.Src != "" {
		data, err := os.ReadFile(p.Src)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot read template %s: %w", p.Src, err)
		}
		source = string(data)
		name = p.Src
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, nil, fmt.Errorf("template parse failed: %w", err)
	}

	vars := mc.Vars
	if vars == nil {
		vars = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, nil, fmt.Errorf("template render failed: %w", err)
	}

	if err := validateRendered(buf.String()); err != nil {
		return nil, nil, err
	}
	return p, buf.Bytes(), nil
}

// validateRendered rejects output that still carries template action
// delimiters, which means a variable reference slipped through
// unrendered.
func validateRendered(out string) error {
	if strings.Contains(out, "{{") || strings.Contains(out, "}}") {
		return fmt.Errorf("rendered output contains unresolved template delimiters")
	}
	return nil
}

// Check implements the Module interface.
func (m *TemplateModule) Check(ctx context.Context, mc *Context, raw map[string]interface{}) (Status, error) {
	p, rendered, err := m.render(mc, raw)
	if err != nil {
		return Status{}, err
	}
	return contentStatus(ctx, mc, p.Dest, rendered)
}

// Apply implements the Module interface.
func (m *TemplateModule) Apply(ctx context.Context, mc *Context, raw map[string]interface{}) (Result, error) {
	p, rendered, err := m.render(mc, raw)
	if err != nil {
		return Result{}, err
	}

	status, err := contentStatus(ctx, mc, p.Dest, rendered)
	if err != nil {
		return Result{}, err
	}
	if status.Satisfied {
		return Result{Msg: p.Dest + " already up to date"}, nil
	}

	if err := placeFile(ctx, mc, p.Dest, rendered, p.Mode, p.Owner, p.Group); err != nil {
		return Result{}, err
	}
	return Result{Changed: true, Msg: "rendered " + p.Dest}, nil
}
