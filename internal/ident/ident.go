// Package ident canonicalizes Notion record references into comparable keys.
package ident

import (
	"fmt"
	"strings"

	"github.com/starford/todosync/internal/apperr"
)

// NoID is the key given to a link that carries no parseable identifier.
// Real keys are non-empty lowercase hex, so NoID never collides with one.
const NoID = "no id defined"

// notionIDLen is the length of a Notion page id without hyphens.
const notionIDLen = 32

// minShortID is the shortest key accepted outside the 32-digit page id form.
const minShortID = 6

var stripper = strings.NewReplacer("'", "", "(", "", ")", "")

// Normalize returns the comparable key for a link or raw record id.
//
// Hyphenation is irrelevant: "abc-123-def" and "abc123def" yield the same key.
// A Notion page URL ("…/Fix-the-bug-<32 hex>") yields the trailing page id.
func Normalize(link string) (string, error) {
	seg := lastSegment(stripper.Replace(strings.TrimSpace(link)))

	compact := strings.ToLower(strings.ReplaceAll(seg, "-", ""))
	if len(compact) >= notionIDLen && isHex(compact[len(compact)-notionIDLen:]) {
		return compact[len(compact)-notionIDLen:], nil
	}
	if shortID(compact) {
		return compact, nil
	}

	// Title slug followed by a short id: keep what follows the last hyphen.
	if i := strings.LastIndex(seg, "-"); i >= 0 {
		if suffix := strings.ToLower(seg[i+1:]); shortID(suffix) {
			return suffix, nil
		}
	}
	return NoID, fmt.Errorf("%w: %q", apperr.ErrMalformedIdentifier, link)
}

// lastSegment drops any query or fragment and returns the final path segment.
func lastSegment(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// shortID accepts hex keys of at least minShortID digits that contain a
// decimal digit, so English words like "feed" or "decade" are rejected.
func shortID(s string) bool {
	return len(s) >= minShortID && isHex(s) && strings.ContainsAny(s, "0123456789")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
