package editor

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	// StartOfLine is the column of the first character of a line.
	StartOfLine = 0
	// EndOfLine is a sentinel column that always resolves to the end of its line.
	EndOfLine = math.MaxInt
)

// Position addresses a location in a document by line and byte column.
// Ch may be EndOfLine.
type Position struct {
	Line int `yaml:"line"`
	Ch   int `yaml:"ch"`
}

func (p Position) String() string {
	if p.Ch == EndOfLine {
		return fmt.Sprintf("%d:$", p.Line)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Ch)
}

// Editor is the capability set needed to apply persisted results to a document.
// A live editor and a static FileEditor both satisfy it.
type Editor interface {
	LastLine() int
	GetLine(line int) string
	PositionToOffset(pos Position) int
	OffsetToPosition(offset int) Position
	ReplaceRange(replacement string, from, to Position)
}

// FileEditor is an in-memory, line-addressable buffer over a whole document.
// Every edit rebuilds the line table from the new content.
type FileEditor struct {
	content string
	lines   []string
	starts  []int // byte offset of the first character of each line
}

var _ Editor = (*FileEditor)(nil)

// New creates a FileEditor over content
func New(content string) *FileEditor {
	e := &FileEditor{}
	e.SyncTo(content)
	return e
}

// SyncTo replaces the buffer content and rebuilds the line table
func (e *FileEditor) SyncTo(content string) {
	e.content = content
	e.lines = strings.Split(content, "\n")
	e.starts = make([]int, len(e.lines))

	offset := 0
	for i, line := range e.lines {
		e.starts[i] = offset
		offset += len(line) + 1
	}
}

// Content returns the current document text
func (e *FileEditor) Content() string {
	return e.content
}

// LastLine returns the highest valid line index
func (e *FileEditor) LastLine() int {
	return len(e.lines) - 1
}

// GetLine returns the text of line n, or "" when n is out of range
func (e *FileEditor) GetLine(n int) string {
	if n < 0 || n > e.LastLine() {
		return ""
	}
	return e.lines[n]
}

// PositionToOffset converts pos into a byte offset into Content.
//
// Negative components map to 0, lines past the end map to len(Content), and
// columns past the end of a line (including EndOfLine) map to the end of that line.
func (e *FileEditor) PositionToOffset(pos Position) int {
	if pos.Line < 0 || pos.Ch < 0 {
		return 0
	}
	if pos.Line > e.LastLine() {
		return len(e.content)
	}

	ch := pos.Ch
	if n := len(e.lines[pos.Line]); ch > n {
		ch = n
	}
	return e.starts[pos.Line] + ch
}

// OffsetToPosition is the inverse of PositionToOffset.
// Offsets at or after the end of the content clamp to {LastLine, EndOfLine}.
func (e *FileEditor) OffsetToPosition(offset int) Position {
	if offset <= 0 {
		return Position{Line: 0, Ch: 0}
	}
	if offset >= len(e.content) {
		return Position{Line: e.LastLine(), Ch: EndOfLine}
	}

	line := sort.Search(len(e.starts), func(i int) bool {
		return e.starts[i] > offset
	}) - 1
	return Position{Line: line, Ch: offset - e.starts[line]}
}

// Normalize resolves EndOfLine and out-of-range components into an explicit position
func (e *FileEditor) Normalize(pos Position) Position {
	return e.OffsetToPositionExplicit(e.PositionToOffset(pos))
}

// OffsetToPositionExplicit is OffsetToPosition without the EndOfLine sentinel
func (e *FileEditor) OffsetToPositionExplicit(offset int) Position {
	pos := e.OffsetToPosition(offset)
	if pos.Ch == EndOfLine {
		pos.Ch = len(e.lines[pos.Line])
	}
	return pos
}

// ReplaceRange splices replacement between from and to and resynchronises the buffer
func (e *FileEditor) ReplaceRange(replacement string, from, to Position) {
	start := e.PositionToOffset(from)
	end := e.PositionToOffset(to)
	if end < start {
		start, end = end, start
	}
	e.SyncTo(e.content[:start] + replacement + e.content[end:])
}

// Slice returns the text between two positions
func (e *FileEditor) Slice(from, to Position) string {
	start := e.PositionToOffset(from)
	end := e.PositionToOffset(to)
	if end < start {
		start, end = end, start
	}
	return e.content[start:end]
}
