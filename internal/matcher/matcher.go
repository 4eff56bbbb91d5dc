package matcher

import (
	"regexp"
	"strings"
)

// Syntax identifies the comment flavour a Matcher recognises
type Syntax int

const (
	SyntaxPercent Syntax = iota // %%id ... %%
	SyntaxHTML                  // <!--id ... -->
)

func (s Syntax) String() string {
	switch s {
	case SyntaxPercent:
		return "percent"
	case SyntaxHTML:
		return "html"
	default:
		return "unknown"
	}
}

// affix pairs a header template with the footer pattern of one syntax.
// {id} is replaced by the quoted identifier.
type affix struct {
	syntax Syntax
	header string
	footer *regexp.Regexp
}

var affixes = []affix{
	{SyntaxPercent, `^%%{id}($|\s+)`, regexp.MustCompile(`(^|\s*)%%$`)},
	{SyntaxHTML, `^<!--{id}($|\s+)`, regexp.MustCompile(`(^|\s*)-->$`)},
}

// tableOrList matches content that Dataview renders as a bare table or list.
// Leading spaces are allowed before either marker.
var tableOrList = regexp.MustCompile(`^ *[-|]`)

// Matcher recognises one comment syntax for one identifier.
// It is immutable once built.
type Matcher struct {
	id         string
	syntax     Syntax
	header     *regexp.Regexp
	footer     *regexp.Regexp
	startFence string
	endFence   string
}

// New builds the Matcher for identifier id and the given syntax
func New(id string, syntax Syntax) *Matcher {
	var a affix
	for _, candidate := range affixes {
		if candidate.syntax == syntax {
			a = candidate
			break
		}
	}

	return &Matcher{
		id:         id,
		syntax:     syntax,
		header:     regexp.MustCompile(strings.Replace(a.header, "{id}", regexp.QuoteMeta(id), 1)),
		footer:     a.footer,
		startFence: "<!--" + id + "-start KEEP THIS COMMENT -->",
		endFence:   "<!--" + id + "-end KEEP THIS COMMENT -->",
	}
}

// ID returns the comment identifier
func (m *Matcher) ID() string { return m.id }

// Syntax returns the comment syntax
func (m *Matcher) Syntax() Syntax { return m.syntax }

// StartFence returns the literal line that opens a fenced result
func (m *Matcher) StartFence() string { return m.startFence }

// EndFence returns the literal line that closes a fenced result
func (m *Matcher) EndFence() string { return m.endFence }

// TestHeader reports whether line opens a comment query
func (m *Matcher) TestHeader(line string) bool {
	return m.header.MatchString(line)
}

// TestFooter reports whether line closes a comment query.
// The header line itself may also be the footer line.
func (m *Matcher) TestFooter(line string) bool {
	return m.footer.MatchString(line)
}

// RemoveHeader strips the opening marker from line
func (m *Matcher) RemoveHeader(line string) string {
	return replaceFirst(m.header, line)
}

// RemoveFooter strips the closing marker from line
func (m *Matcher) RemoveFooter(line string) string {
	return replaceFirst(m.footer, line)
}

// TestStart reports whether line is exactly the start fence
func (m *Matcher) TestStart(line string) bool {
	return line == m.startFence
}

// TestEnd reports whether line is exactly the end fence
func (m *Matcher) TestEnd(line string) bool {
	return line == m.endFence
}

// FenceResult produces the text that follows the query's closing line.
//
// Bare tables and lists are written without fences so they blend into the
// document; anything else, or anything containing a blank line, is wrapped in
// the fence markers so its boundaries can be found again.
func (m *Matcher) FenceResult(content string, force bool) string {
	if content == "" {
		if force {
			return "\n\n" + m.startFence + "\n" + m.endFence + "\n"
		}
		return "\n"
	}

	shouldFence := force ||
		strings.Contains(content, "\n\n") ||
		!tableOrList.MatchString(content)

	content = strings.TrimRight(content, "\n") + "\n"
	if shouldFence {
		return "\n\n" + m.startFence + "\n" + content + m.endFence + "\n"
	}
	return "\n\n" + content
}

func replaceFirst(re *regexp.Regexp, s string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + s[loc[1]:]
}
