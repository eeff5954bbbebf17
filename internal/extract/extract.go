// Package extract finds TODO comments in source text.
package extract

import (
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/starford/todosync/internal/ident"
	"github.com/starford/todosync/internal/models"
)

var (
	todoRe   = regexp.MustCompile(`//\s*TODO:.*|/\*\s*TODO:(?s:.*?)\*/`)
	markerRe = regexp.MustCompile(`^(?://|/\*)\s*TODO:`)
	linkRe   = regexp.MustCompile(`\(([^()\s]+)\)[^()]*$`)
)

// Match is one raw TODO comment occurrence. Start and End are byte offsets.
type Match struct {
	Raw   string
	Start int
	End   int
}

// Form reports whether the match is a line or a block comment.
func (m Match) Form() models.CommentForm {
	if strings.HasPrefix(m.Raw, "/*") {
		return models.BlockComment
	}
	return models.LineComment
}

// Scan returns the TODO comments in text, in order. Every range over the
// returned sequence starts from the beginning of text.
func Scan(text string) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		pos := 0
		for pos <= len(text) {
			loc := todoRe.FindStringIndex(text[pos:])
			if loc == nil {
				return
			}
			start, end := pos+loc[0], pos+loc[1]
			raw := text[start:end]
			if trimmed := strings.TrimSuffix(raw, "\r"); len(trimmed) != len(raw) {
				raw = trimmed
				end = start + len(raw)
			}
			if !yield(Match{Raw: raw, Start: start, End: end}) {
				return
			}
			if end == pos {
				end++
			}
			pos = end
		}
	}
}

// Sanitize strips comment markers, the TODO tag, the closing block marker and
// any trailing embedded link, returning the bare task text on one line.
func Sanitize(raw string) string {
	s := markerRe.ReplaceAllString(strings.TrimSpace(raw), "")
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "*/"))
	if loc, _ := trailingLink(s); loc >= 0 {
		s = s[:loc]
	}

	lines := strings.Split(s, "\n")
	parts := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "*"))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

// Link returns the trailing parenthesized link of a comment, or "".
func Link(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "*/"))
	_, link := trailingLink(s)
	return link
}

// trailingLink locates the trailing link in s and returns its start offset
// (-1 if none) and its content. A bare word such as "(add)" is prose, not a
// link: the fragment must contain a slash or a digit.
func trailingLink(s string) (int, string) {
	m := linkRe.FindStringSubmatchIndex(s)
	if m == nil {
		return -1, ""
	}
	link := s[m[2]:m[3]]
	if !strings.ContainsAny(link, "/0123456789") {
		return -1, ""
	}
	return m[0], link
}

// File extracts every TODO in text. Entities with a malformed link carry
// ident.NoID as their ExternalID.
func File(text string, src models.SourceFile, modTime time.Time) []models.ToDo {
	idx := NewLineIndex(text)
	var out []models.ToDo
	for m := range Scan(text) {
		td := models.ToDo{
			Text:        Sanitize(m.Raw),
			Source:      src,
			Span:        models.Span{Start: idx.Position(m.Start), End: idx.Position(m.End)},
			LastChanged: modTime,
			Form:        m.Form(),
		}
		if link := Link(m.Raw); link != "" {
			td.ExternalLink = link
			td.ExternalID, _ = ident.Normalize(link)
		}
		out = append(out, td)
	}
	return out
}
