package persist

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

// linkTargetRe matches the target part of an aliased wiki link, "[[target|"
var linkTargetRe = regexp.MustCompile(`\[\[[^|\]\n]+\|`)

func shortenLink(s string) string {
	return linkTargetRe.ReplaceAllString(s, "[[")
}

// ShortenLinks rewrites [[path/to/note|alias]] as [[alias]].
// Table rows keep their column alignment.
func ShortenLinks(markdown string) string {
	lines := strings.Split(markdown, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "|") {
			lines[i] = shortenLink(lines[i])
			continue
		}
		i = shortenTableLinks(lines, i)
	}
	return strings.Join(lines, "\n")
}

// shortenTableLinks rewrites the table starting at start and returns the
// index of its last row
func shortenTableLinks(lines []string, start int) int {
	var rows [][]string
	shrink := map[int]int{} // column -> widest removal

	end := start
	for ; end < len(lines) && strings.HasPrefix(lines[end], "|"); end++ {
		cells := strings.Split(lines[end], " | ")
		rows = append(rows, cells)
		if !strings.Contains(lines[end], "[[") {
			continue
		}
		for col, before := range cells {
			after := shortenLink(before)
			removed := runewidth.StringWidth(before) - runewidth.StringWidth(after)
			if removed < 1 {
				continue
			}
			cells[col] = padCell(after, removed)
			if removed > shrink[col] {
				shrink[col] = removed
			}
		}
	}

	for col, n := range shrink {
		for _, cells := range rows {
			if col < len(cells) {
				cells[col] = trimPadding(cells[col], n)
			}
		}
	}

	for r, cells := range rows {
		lines[start+r] = strings.Join(cells, " | ")
	}
	return end - 1
}

// splitPipe separates a trailing table pipe from a cell
func splitPipe(cell string) (body, pipe string) {
	switch {
	case strings.HasSuffix(cell, " |"):
		return strings.TrimSuffix(cell, " |"), " |"
	case strings.HasSuffix(cell, "|") && cell != "|":
		return strings.TrimSuffix(cell, "|"), "|"
	}
	return cell, ""
}

func padCell(cell string, n int) string {
	body, pipe := splitPipe(cell)
	return body + strings.Repeat(" ", n) + pipe
}

// trimPadding removes up to n columns of padding from the end of a cell.
// Separator cells give up surplus dashes but keep three.
func trimPadding(cell string, n int) string {
	body, pipe := splitPipe(cell)
	separator := isSeparatorCell(body)
	for n > 0 && len(body) > 0 {
		last := body[len(body)-1]
		if last == ' ' || (separator && last == '-' && strings.Count(body, "-") > 3) {
			body = body[:len(body)-1]
			n--
			continue
		}
		break
	}
	return body + pipe
}

func isSeparatorCell(body string) bool {
	body = strings.TrimSpace(strings.TrimPrefix(body, "|"))
	return body != "" && strings.Trim(body, "-:") == ""
}
