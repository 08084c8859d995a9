// Package template implements the placeholder substitution used for
// notification content. Substitution is literal: every {{key}} occurrence
// is replaced with the string form of the variable, and placeholders
// without a matching variable are left verbatim.
package template

import (
	"fmt"
	"html"
	"strings"

	"github.com/biztrack/notifier/internal/model"
)

// Render substitutes {{key}} placeholders with the string form of the
// corresponding variable. Unknown placeholders are not an error.
func Render(tpl string, vars map[string]interface{}) string {
	return render(tpl, vars, false)
}

// RenderHTML is Render with variable values HTML-escaped before
// substitution. Template literals themselves are trusted admin content
// and pass through unescaped.
func RenderHTML(tpl string, vars map[string]interface{}) string {
	return render(tpl, vars, true)
}

// RenderContent renders a full template into instance content. Subject
// and body are substituted literally; html_body gets escaped variables.
func RenderContent(tpl model.Template, vars map[string]interface{}) model.Content {
	content := model.Content{
		Subject: Render(tpl.Subject, vars),
		Body:    Render(tpl.Body, vars),
	}
	if tpl.HTMLBody != "" {
		content.HTMLBody = RenderHTML(tpl.HTMLBody, vars)
	}
	return content
}

func render(tpl string, vars map[string]interface{}, escape bool) string {
	if tpl == "" || len(vars) == 0 {
		return tpl
	}
	out := tpl
	for key, value := range vars {
		str := fmt.Sprintf("%v", value)
		if escape {
			str = html.EscapeString(str)
		}
		out = strings.ReplaceAll(out, "{{"+key+"}}", str)
	}
	return out
}
