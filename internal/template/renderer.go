// Package template renders per-recipient subject and body at
// materialization time, before any scheduling happens.
package template

import (
	"fmt"
	"strings"
)

type Renderer interface {
	Render(subjectTemplate, bodyTemplate string, fields map[string]string) (subject, body string, err error)
}

// PlaceholderRenderer substitutes {field_name} markers with recipient
// fields. Empty field values render as "<unknown>".
type PlaceholderRenderer struct{}

func (PlaceholderRenderer) Render(subjectTemplate, bodyTemplate string, fields map[string]string) (string, string, error) {
	if strings.TrimSpace(subjectTemplate) == "" {
		return "", "", fmt.Errorf("subject template cannot be empty")
	}
	if strings.TrimSpace(bodyTemplate) == "" {
		return "", "", fmt.Errorf("body template cannot be empty")
	}

	return substitute(subjectTemplate, fields), substitute(bodyTemplate, fields), nil
}

func substitute(template string, fields map[string]string) string {
	result := template
	for k, v := range fields {
		if v == "" {
			v = "<unknown>"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

var _ Renderer = PlaceholderRenderer{}
