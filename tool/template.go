package tool

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// renderTemplate executes text as a Go template with the sprig function map.
// Referencing a missing key is an error.
func renderTemplate(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
