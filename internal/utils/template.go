package utils

import (
	"bytes"
	"fmt"
	"text/template"
)

// RenderTemplate executes a text template against data.
func RenderTemplate(name, text string, data interface{}) (string, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", name, err)
	}
	return buf.String(), nil
}
