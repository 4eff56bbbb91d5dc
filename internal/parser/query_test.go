package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gubarz/dvpersist/internal/editor"
	"github.com/gubarz/dvpersist/internal/matcher"
)

const (
	startFence = "<!--dv-start KEEP THIS COMMENT -->"
	endFence   = "<!--dv-end KEEP THIS COMMENT -->"
)

var state = matcher.PrepareState(matcher.Settings{CommentHeader: matcher.DefaultCommentHeader})

func pos(line, ch int) editor.Position {
	return editor.Position{Line: line, Ch: ch}
}

func eol(line int) editor.Position {
	return editor.Position{Line: line, Ch: editor.EndOfLine}
}

// mixedDoc mixes every supported query and result shape
var mixedDoc = LineSlice{
	"# Recipes",                    // 0
	"",                             // 1
	`%%dv list from "recipes" %%`,  // 2
	"",                             // 3
	"- [[Soup]]",                   // 4
	"- [[Stew]]",                   // 5
	"",                             // 6
	"%%dataview",                   // 7
	"table rating",                 // 8
	`from "books"`,                 // 9
	"%%",                           // 10
	"| File | Rating |",            // 11
	"| --- | --- |",                // 12
	"| a | 1 |",                    // 13
	"Paragraph",                    // 14
	`<!--dv task from "todo" -->`,  // 15
	"",                             // 16
	startFence,                     // 17
	"## Section",                   // 18
	"",                             // 19
	"text",                         // 20
	endFence,                       // 21
	`%%dv list from "other" %%`,    // 22
	"",                             // 23
	"Some paragraph",               // 24
	`%%dv list from "eof" %%`,      // 25
}

func TestFindAllQueries(t *testing.T) {
	queries := FindAllQueries(state, mixedDoc)
	require.Len(t, queries, 5)

	tests := []struct {
		query      string
		from, to   int
		resultTo   editor.Position
		syntax     matcher.Syntax
		identifier string
	}{
		{`list from "recipes"`, 2, 2, pos(6, 0), matcher.SyntaxPercent, "dv"},
		{"table rating\nfrom \"books\"", 7, 10, pos(14, 0), matcher.SyntaxPercent, "dataview"},
		{`task from "todo"`, 15, 15, pos(22, 0), matcher.SyntaxHTML, "dv"},
		{`list from "other"`, 22, 22, pos(23, 0), matcher.SyntaxPercent, "dv"},
		{`list from "eof"`, 25, 25, eol(25), matcher.SyntaxPercent, "dv"},
	}

	for i, tt := range tests {
		q := queries[i]
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.query, q.Query)
			assert.Equal(t, tt.from, q.QueryFrom)
			assert.Equal(t, tt.to, q.QueryTo)
			assert.Equal(t, eol(tt.to), q.ResultFrom)
			assert.Equal(t, tt.resultTo, q.ResultTo)
			assert.Equal(t, tt.syntax, q.Matcher.Syntax())
			assert.Equal(t, tt.identifier, q.Matcher.ID())
		})
	}

	// spans are disjoint and ordered
	for i := 1; i < len(queries); i++ {
		prev, cur := queries[i-1], queries[i]
		assert.Greater(t, cur.QueryFrom, prev.QueryTo)
		assert.LessOrEqual(t, prev.ResultTo.Line, cur.QueryFrom)
	}
}

func TestHasQueries(t *testing.T) {
	assert.True(t, HasQueries(state, mixedDoc))
	assert.False(t, HasQueries(state, LineSlice{"# Title", "", "- item"}))
	assert.False(t, HasQueries(state, LineSlice{""}))
	// unterminated comment
	assert.False(t, HasQueries(state, LineSlice{"%%dv", "list from x"}))
}

func TestFindQueryStrangeSpacing(t *testing.T) {
	lines := LineSlice{
		"%%dv                      list",
		"from",
		`"strange3"                  %%`,
	}
	m, ok := state.MatchHeader(lines[0])
	require.True(t, ok)

	q, ok := FindQuery(state, m, 0, lines)
	require.True(t, ok)
	assert.Equal(t, "list\nfrom\n\"strange3\"", q.Query)
	assert.Equal(t, 2, q.QueryTo)
	assert.Equal(t, eol(2), q.ResultTo)
}

func TestFindQueryRejects(t *testing.T) {
	m, ok := state.MatchHeader("%%dv")
	require.True(t, ok)

	lines := LineSlice{"paragraph", "%%dv", "list"}
	_, ok = FindQuery(state, m, 0, lines)
	assert.False(t, ok, "not a header")
	_, ok = FindQuery(state, m, 1, lines)
	assert.False(t, ok, "never closed")
	_, ok = FindQuery(state, m, 5, lines)
	assert.False(t, ok, "past the end")
	_, ok = FindQuery(state, m, -1, lines)
	assert.False(t, ok, "negative line")
}

func TestFindResult(t *testing.T) {
	const q = `%%dv list from "x" %%`

	tests := []struct {
		name  string
		lines LineSlice
		want  editor.Position
	}{
		{"end of file", LineSlice{"", q}, eol(1)},
		{"blank last line", LineSlice{q, ""}, pos(1, 0)},
		{"adjacent list", LineSlice{q, "- a", "- b", "text"}, pos(3, 0)},
		{"spaced list", LineSlice{q, "", "- a", "", "- b"}, pos(3, 0)},
		{"indented list", LineSlice{q, "", "  - a", "    - b", "after"}, pos(4, 0)},
		{"task list", LineSlice{q, "", "- [ ] a", "- [x] b", ""}, pos(4, 0)},
		{"list until end of file", LineSlice{q, "", "- a", "- b"}, eol(3)},
		{"single item on last line", LineSlice{q, "- a"}, eol(1)},
		{"blank then single item on last line", LineSlice{q, "", "- a"}, eol(2)},
		{"table", LineSlice{q, "", "| a |", "| - |", "| 1 |", ""}, pos(5, 0)},
		{"table then list", LineSlice{q, "| a |", "- b"}, pos(2, 0)},
		{"two blank lines", LineSlice{q, "", "", "- a"}, pos(1, 0)},
		{"paragraph", LineSlice{q, "", "text", "- a"}, pos(1, 0)},
		{"fenced", LineSlice{q, "", startFence, "text", "", endFence, "tail"}, pos(6, 0)},
		{"fenced adjacent", LineSlice{q, startFence, endFence}, eol(2)},
		{"fence without end", LineSlice{q, "", startFence, "", "- Hot Water", "- Water Soup", ""}, pos(1, 0)},
		{"fence cut by a header of the other syntax", LineSlice{q, "", startFence, "- a", "<!--dv B -->", "", startFence, endFence}, pos(1, 0)},
		{"fence cut by a header of another identifier", LineSlice{q, "", startFence, "- a", "%%dataview B %%", "", startFence, endFence}, pos(1, 0)},
		{"indented table", LineSlice{q, "", "  | a |", "  | - |", "after"}, pos(4, 0)},
		{"fence of another identifier", LineSlice{q, "", "<!--dataview-start KEEP THIS COMMENT -->", "x", "<!--dataview-end KEEP THIS COMMENT -->"}, pos(1, 0)},
	}

	m, ok := state.MatchHeader(q)
	require.True(t, ok)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queryTo := 0
			if tt.lines[0] != q {
				queryTo = 1
			}
			from, to := FindResult(state, m, queryTo, tt.lines)
			assert.Equal(t, eol(queryTo), from)
			assert.Equal(t, tt.want, to)
		})
	}
}

func TestFencedResultEndsAtHeader(t *testing.T) {
	lines := LineSlice{
		"",                           // 0
		"%%dv",                       // 1
		`list from "recipes"`,        // 2
		"%%",                         // 3
		"",                           // 4
		startFence,                   // 5
		"- a",                        // 6
		"- b",                        // 7
		"",                           // 8
		"Intermission",               // 9
		"",                           // 10
		`%%dv list from "books" %%`,  // 11
		"",                           // 12
		startFence,                   // 13
		"",                           // 14
		"- c",                        // 15
		"- d",                        // 16
		"",                           // 17
		endFence,                     // 18
		"tail",                       // 19
	}

	queries := FindAllQueries(state, lines)
	require.Len(t, queries, 2)

	assert.Equal(t, 1, queries[0].QueryFrom)
	assert.Equal(t, 3, queries[0].QueryTo)
	assert.Equal(t, pos(4, 0), queries[0].ResultTo)

	assert.Equal(t, 11, queries[1].QueryFrom)
	assert.Equal(t, pos(19, 0), queries[1].ResultTo)

	// a header in the other comment syntax also ends the search
	lines = LineSlice{
		"<!--dv",     // 0
		"A",          // 1
		"-->",        // 2
		"",           // 3
		startFence,   // 4
		"- stale",    // 5
		"%%dv B %%",  // 6
		"",           // 7
		startFence,   // 8
		"- old",      // 9
		endFence,     // 10
		"",           // 11
	}

	queries = FindAllQueries(state, lines)
	require.Len(t, queries, 2)
	assert.Equal(t, "A", queries[0].Query)
	assert.Equal(t, pos(3, 0), queries[0].ResultTo)
	assert.Equal(t, "B", queries[1].Query)
	assert.Equal(t, 6, queries[1].QueryFrom)
	assert.Equal(t, pos(11, 0), queries[1].ResultTo)
}

func TestIdentifyQuery(t *testing.T) {
	tests := []struct {
		line     int
		wantFrom int
		found    bool
	}{
		{0, 0, false},  // heading
		{2, 2, true},   // line query
		{3, 0, false},  // right after the query
		{4, 0, false},  // inside its result
		{7, 7, true},   // block header
		{8, 7, true},   // block body
		{10, 7, true},  // block footer
		{11, 0, false}, // table result
		{14, 0, false}, // paragraph
		{15, 15, true}, // html comment
		{19, 0, false}, // inside fence
		{25, 25, true}, // last line
		{26, 0, false}, // past the end
		{-1, 0, false},
	}

	for _, tt := range tests {
		q, ok := IdentifyQuery(state, tt.line, mixedDoc)
		assert.Equal(t, tt.found, ok, "line %d", tt.line)
		if tt.found {
			assert.Equal(t, tt.wantFrom, q.QueryFrom, "line %d", tt.line)
		}
	}
}

func TestIdentifyQueryMatchesFindAll(t *testing.T) {
	for _, q := range FindAllQueries(state, mixedDoc) {
		for line := q.QueryFrom; line <= q.QueryTo; line++ {
			found, ok := IdentifyQuery(state, line, mixedDoc)
			require.True(t, ok, "line %d", line)
			assert.Equal(t, q, found)
		}
	}
}

func TestSplitLines(t *testing.T) {
	lines := SplitLines("a\nb\n")
	assert.Equal(t, 2, lines.LastLine())
	assert.Equal(t, "b", lines.GetLine(1))
	assert.Equal(t, "", lines.GetLine(2))
	assert.Equal(t, "", lines.GetLine(3))
	assert.Equal(t, "", lines.GetLine(-1))

	// the editor exposes the same line view
	fe := editor.New("a\nb\n")
	assert.Equal(t, lines.LastLine(), fe.LastLine())
	var _ Lines = fe
}
