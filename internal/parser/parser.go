package parser

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gubarz/dvpersist/internal/matcher"
)

// Document is a markdown file and the comment queries found in it
type Document struct {
	File    string   // Source file path
	Content string   // File content at parse time
	Tags    []string // Folder names leading to the file
	Queries []Query  // Queries in document order
	Headers []string // Section header preceding each query, parallel to Queries
}

// Lines returns the document content split into lines
func (d *Document) Lines() LineSlice {
	return SplitLines(d.Content)
}

// Result returns the text currently persisted for query i, without the
// blank line that may separate it from the query
func (d *Document) Result(i int) string {
	if i < 0 || i >= len(d.Queries) {
		return ""
	}
	q := d.Queries[i]
	lines := d.Lines()
	if q.ResultTo.Line <= q.QueryTo {
		return ""
	}

	var sb strings.Builder
	last := q.ResultTo.Line
	if q.ResultTo.Ch == 0 {
		last--
	}
	first := q.QueryTo + 1
	if first < last && isBlank(lines.GetLine(first)) {
		first++
	}
	for n := first; n <= last; n++ {
		sb.WriteString(lines.GetLine(n))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Index holds all parsed documents
type Index struct {
	Documents []*Document
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{
		Documents: make([]*Document, 0),
	}
}

// QueryCount returns the number of queries across all documents
func (idx *Index) QueryCount() int {
	n := 0
	for _, d := range idx.Documents {
		n += len(d.Queries)
	}
	return n
}

var headerRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Parser handles markdown file parsing
type Parser struct {
	state *matcher.State
	index *Index
	// KeepEmpty also indexes documents without queries
	KeepEmpty bool
}

// NewParser creates a new parser recognising the queries of state
func NewParser(state *matcher.State) *Parser {
	return &Parser{
		state: state,
		index: NewIndex(),
	}
}

// ParseDirectory recursively parses all markdown files.
// Hidden directories such as .git or .obsidian are skipped.
func (p *Parser) ParseDirectory(dir string) (*Index, error) {
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsMarkdown(path) {
			if err := p.parseFile(path, dir); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.index, nil
}

// ParseSingleFile parses a single markdown file
func (p *Parser) ParseSingleFile(path string) (*Index, error) {
	if err := p.parseFile(path, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return p.index, nil
}

// ParseContent indexes content as if it had been read from path
func (p *Parser) ParseContent(path, content string) *Document {
	lines := SplitLines(content)
	queries := FindAllQueries(p.state, lines)

	doc := &Document{
		File:    path,
		Content: content,
		Queries: queries,
		Headers: sectionHeaders(lines, queries),
	}
	if len(queries) > 0 || p.KeepEmpty {
		p.index.Documents = append(p.index.Documents, doc)
	}
	return doc
}

// IsMarkdown reports whether path names a markdown file
func IsMarkdown(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".md")
}

func (p *Parser) parseFile(path, root string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc := p.ParseContent(path, string(data))
	doc.Tags = extractTags(root, path)
	return nil
}

// sectionHeaders finds the nearest markdown header above each query
func sectionHeaders(lines LineSlice, queries []Query) []string {
	headers := make([]string, len(queries))
	current := ""
	qi := 0
	for i := 0; i < len(lines) && qi < len(queries); i++ {
		for qi < len(queries) && queries[qi].QueryFrom == i {
			headers[qi] = current
			qi++
		}
		if matches := headerRegex.FindStringSubmatch(lines[i]); matches != nil {
			current = matches[2]
		}
	}
	return headers
}

func extractTags(root, path string) []string {
	var tags []string
	dir := filepath.Dir(path)
	if rel, err := filepath.Rel(root, dir); err == nil {
		dir = rel
	}
	parts := strings.Split(dir, string(filepath.Separator))
	for _, part := range parts {
		if part != "" && part != "." && part != ".." {
			tags = append(tags, strings.ToLower(part))
		}
	}
	return tags
}
