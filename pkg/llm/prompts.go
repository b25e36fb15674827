package llm

import (
	"bytes"
	"fmt"
	"text/template"
)

// PromptSet renders named prompt templates
type PromptSet struct {
	templates map[string]*template.Template
}

// NewPromptSet creates an empty prompt set
func NewPromptSet() *PromptSet {
	return &PromptSet{templates: make(map[string]*template.Template)}
}

// Register parses and stores a template under name
func (ps *PromptSet) Register(name, content string) error {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	ps.templates[name] = tmpl
	return nil
}

// MustRegister is Register for package-level prompt tables
func (ps *PromptSet) MustRegister(name, content string) *PromptSet {
	if err := ps.Register(name, content); err != nil {
		panic(err)
	}
	return ps
}

// Has reports whether a template named name exists
func (ps *PromptSet) Has(name string) bool {
	_, ok := ps.templates[name]
	return ok
}

// Render executes the named template with data
func (ps *PromptSet) Render(name string, data interface{}) (string, error) {
	tmpl, ok := ps.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
