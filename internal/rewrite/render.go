// Package rewrite applies scheduled comment edits to workspace files.
package rewrite

import (
	"strings"

	"github.com/starford/todosync/internal/models"
)

// Render formats td as a comment in its original form, with the link appended
// in parentheses when present.
func Render(td models.ToDo) string {
	var b strings.Builder
	if td.Form == models.BlockComment {
		b.WriteString("/* ")
	} else {
		b.WriteString("// ")
	}
	b.WriteString("TODO: ")
	b.WriteString(td.Text)
	if td.ExternalLink != "" {
		b.WriteString(" (")
		b.WriteString(td.ExternalLink)
		b.WriteString(")")
	}
	if td.Form == models.BlockComment {
		b.WriteString(" */")
	}
	return b.String()
}
