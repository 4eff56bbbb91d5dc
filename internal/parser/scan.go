package parser

import "github.com/gubarz/dvpersist/internal/matcher"

// HasQueries reports whether lines contain at least one comment query
func HasQueries(state *matcher.State, lines Lines) bool {
	found := false
	scan(state, lines, func(Query) bool {
		found = true
		return false
	})
	return found
}

// FindAllQueries returns every comment query in lines in document order.
// Once a query is found the scan resumes after its result, so the returned
// queries never overlap.
func FindAllQueries(state *matcher.State, lines Lines) []Query {
	var queries []Query
	scan(state, lines, func(q Query) bool {
		queries = append(queries, q)
		return true
	})
	return queries
}

// scan calls yield for each query until yield returns false
func scan(state *matcher.State, lines Lines, yield func(Query) bool) {
	lastLine := lines.LastLine()
	for i := 0; i <= lastLine; {
		q, ok := findAt(state, i, lines)
		if !ok {
			i++
			continue
		}
		if !yield(q) {
			return
		}
		i = q.nextScanLine()
	}
}

// findAt tries every matcher on line i
func findAt(state *matcher.State, i int, lines Lines) (Query, bool) {
	line := lines.GetLine(i)
	for _, m := range state.Matchers {
		if !m.TestHeader(line) {
			continue
		}
		if q, ok := FindQuery(state, m, i, lines); ok {
			return q, true
		}
	}
	return Query{}, false
}

// IdentifyQuery returns the query whose comment spans testLine.
// It walks backwards from testLine looking for a header and only accepts a
// query whose closing line is at or after testLine.
func IdentifyQuery(state *matcher.State, testLine int, lines Lines) (Query, bool) {
	if testLine < 0 || testLine > lines.LastLine() {
		return Query{}, false
	}

	for i := testLine; i >= 0; i-- {
		line := lines.GetLine(i)
		for _, m := range state.Matchers {
			if !m.TestHeader(line) {
				continue
			}
			if q, ok := FindQuery(state, m, i, lines); ok && q.QueryTo >= testLine {
				return q, true
			}
		}
	}
	return Query{}, false
}
