package mail

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = template.Must(template.New("mail").ParseFS(templatesFS, "templates/*.tmpl"))

// Render returns the subject and plain-text body for msg.
func Render(msg Message) (subject, body string, err error) {
	subject, err = execute(msg.Template+".subject", msg.Data)
	if err != nil {
		return "", "", err
	}
	body, err = execute(msg.Template+".body", msg.Data)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(subject), body, nil
}

func execute(name string, data map[string]any) (string, error) {
	t := templates.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("unknown mail template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
