package parser

import (
	"regexp"
	"strings"

	"github.com/gubarz/dvpersist/internal/editor"
	"github.com/gubarz/dvpersist/internal/matcher"
)

var (
	tableRowRe = regexp.MustCompile(`^ *\|`)
	listItemRe = regexp.MustCompile(`^ *-`)
)

// Query is a comment query located in a document together with the range
// that holds (or will hold) its persisted result
type Query struct {
	Query      string           // query text, markers stripped and trimmed
	QueryFrom  int              // first line of the comment
	QueryTo    int              // last line of the comment, inclusive
	ResultFrom editor.Position  // always {QueryTo, EndOfLine}
	ResultTo   editor.Position  // end of the previously persisted result
	Matcher    *matcher.Matcher // matcher that recognised the comment
}

// Contains reports whether line falls within the comment itself
func (q Query) Contains(line int) bool {
	return line >= q.QueryFrom && line <= q.QueryTo
}

// nextScanLine is the first line a document scan may inspect after q
func (q Query) nextScanLine() int {
	next := q.ResultTo.Line
	if q.ResultTo.Ch != editor.StartOfLine {
		next++
	}
	if next <= q.QueryTo {
		next = q.QueryTo + 1
	}
	return next
}

// FindQuery reads the comment query whose header is on line queryFrom.
// It returns false when the line is not a header or the comment is never closed.
// state supplies the other headers that bound a fenced result; nil means only m.
func FindQuery(state *matcher.State, m *matcher.Matcher, queryFrom int, lines Lines) (Query, bool) {
	lastLine := lines.LastLine()
	if queryFrom < 0 || queryFrom > lastLine {
		return Query{}, false
	}

	header := lines.GetLine(queryFrom)
	if !m.TestHeader(header) {
		return Query{}, false
	}

	// line query: header and footer share the line
	if m.TestFooter(header) {
		text := m.RemoveHeader(m.RemoveFooter(header))
		return newQuery(state, m, text, queryFrom, queryFrom, lines), true
	}

	parts := []string{m.RemoveHeader(header)}
	for i := queryFrom + 1; i <= lastLine; i++ {
		line := lines.GetLine(i)
		if !m.TestFooter(line) {
			parts = append(parts, line)
			continue
		}
		parts = append(parts, m.RemoveFooter(line))
		return newQuery(state, m, strings.Join(parts, "\n"), queryFrom, i, lines), true
	}

	// unterminated comment
	return Query{}, false
}

func newQuery(state *matcher.State, m *matcher.Matcher, text string, from, to int, lines Lines) Query {
	resultFrom, resultTo := FindResult(state, m, to, lines)
	return Query{
		Query:      strings.TrimSpace(text),
		QueryFrom:  from,
		QueryTo:    to,
		ResultFrom: resultFrom,
		ResultTo:   resultTo,
		Matcher:    m,
	}
}

// FindResult computes the range after line queryTo that holds a persisted result.
//
// The range starts at the end of the query's closing line. A single blank
// line may separate the query from its result. Fenced results end after the
// end fence; bare tables and lists end at the first line that is not a row or
// an item. When nothing recognisable follows, the range is the line break
// right after the query. A header of any matcher in state met before the
// end fence also means no result, so the fence cannot swallow a query.
func FindResult(state *matcher.State, m *matcher.Matcher, queryTo int, lines Lines) (from, to editor.Position) {
	lastLine := lines.LastLine()
	from = editor.Position{Line: queryTo, Ch: editor.EndOfLine}
	if queryTo >= lastLine {
		return from, from
	}

	noResult := editor.Position{Line: queryTo + 1, Ch: editor.StartOfLine}

	next := queryTo + 1
	if isBlank(lines.GetLine(next)) {
		next++
	}
	if next > lastLine {
		return from, noResult
	}

	line := lines.GetLine(next)
	if m.TestStart(line) {
		for i := next + 1; i <= lastLine; i++ {
			candidate := lines.GetLine(i)
			if m.TestEnd(candidate) {
				if i == lastLine {
					return from, editor.Position{Line: i, Ch: editor.EndOfLine}
				}
				return from, editor.Position{Line: i + 1, Ch: editor.StartOfLine}
			}
			// the fence belongs to another query
			if isHeader(state, m, candidate) {
				break
			}
		}
		return from, noResult
	}

	var block *regexp.Regexp
	switch {
	case tableRowRe.MatchString(line):
		block = tableRowRe
	case listItemRe.MatchString(line):
		block = listItemRe
	default:
		return from, noResult
	}

	for i := next + 1; i <= lastLine; i++ {
		if !block.MatchString(lines.GetLine(i)) {
			return from, editor.Position{Line: i, Ch: editor.StartOfLine}
		}
	}
	return from, editor.Position{Line: lastLine, Ch: editor.EndOfLine}
}

func isHeader(state *matcher.State, m *matcher.Matcher, line string) bool {
	if state == nil {
		return m.TestHeader(line)
	}
	_, ok := state.MatchHeader(line)
	return ok
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
