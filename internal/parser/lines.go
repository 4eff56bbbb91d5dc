package parser

import "strings"

// Lines is the line access the scanner needs.
// *editor.FileEditor satisfies it, as does LineSlice.
type Lines interface {
	GetLine(line int) string
	LastLine() int
}

// LineSlice adapts a slice of lines to Lines
type LineSlice []string

// SplitLines splits content on line breaks
func SplitLines(content string) LineSlice {
	return LineSlice(strings.Split(content, "\n"))
}

// GetLine returns line n, or "" when n is out of range
func (s LineSlice) GetLine(n int) string {
	if n < 0 || n >= len(s) {
		return ""
	}
	return s[n]
}

// LastLine returns the highest valid line index
func (s LineSlice) LastLine() int {
	return len(s) - 1
}
