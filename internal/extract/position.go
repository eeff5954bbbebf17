package extract

import (
	"sort"

	"github.com/starford/todosync/internal/models"
)

// LineIndex maps byte offsets to line/column positions and back.
type LineIndex struct {
	starts []int
	size   int
}

// NewLineIndex records where every line of text begins.
func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(text)}
}

// Position converts a byte offset. Offsets past the end clamp to the end.
func (l *LineIndex) Position(offset int) models.Position {
	if offset > l.size {
		offset = l.size
	}
	if offset < 0 {
		offset = 0
	}
	line := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	return models.Position{Line: line, Character: offset - l.starts[line]}
}

// Offset converts a position back to a byte offset. ok is false when the
// position does not exist in the text.
func (l *LineIndex) Offset(p models.Position) (int, bool) {
	if p.Line < 0 || p.Line >= len(l.starts) || p.Character < 0 {
		return 0, false
	}
	lineEnd := l.size
	if p.Line+1 < len(l.starts) {
		lineEnd = l.starts[p.Line+1] - 1
	}
	off := l.starts[p.Line] + p.Character
	if off > lineEnd {
		return 0, false
	}
	return off, true
}
