package ui

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/gubarz/dvpersist/internal/config"
	"github.com/gubarz/dvpersist/internal/matcher"
	"github.com/gubarz/dvpersist/internal/parser"
	"github.com/gubarz/dvpersist/internal/persist"
)

// ============================================================================
// String Builder Pool - reduces GC pressure from rendering
// ============================================================================

var builderPool = sync.Pool{
	New: func() interface{} {
		return &strings.Builder{}
	},
}

func getBuilder() *strings.Builder {
	b := builderPool.Get().(*strings.Builder)
	b.Reset()
	return b
}

func putBuilder(b *strings.Builder) {
	if b.Cap() < 64*1024 { // Don't pool huge builders
		builderPool.Put(b)
	}
}

// ============================================================================
// Persister Interface
// ============================================================================

// Persister is what the browser needs to refresh results
type Persister interface {
	PersistQueryAt(ctx context.Context, path string, line int) (persist.Result, error)
	PersistFile(ctx context.Context, path string) (persist.Result, error)
}

// ============================================================================
// Query Item
// ============================================================================

// queryItem is one query of a document with display metadata
type queryItem struct {
	doc    *parser.Document
	index  int
	folder string
	file   string
	search string // lowercased text the filter matches against
}

// newQueryItems creates one item per query in doc
func newQueryItems(doc *parser.Document) []queryItem {
	folder := filepath.Base(filepath.Dir(doc.File))
	file := filepath.Base(doc.File)

	items := make([]queryItem, len(doc.Queries))
	for i, q := range doc.Queries {
		header := ""
		if i < len(doc.Headers) {
			header = doc.Headers[i]
		}
		items[i] = queryItem{
			doc:    doc,
			index:  i,
			folder: folder,
			file:   file,
			search: strings.ToLower(strings.Join([]string{folder, file, header, q.Query}, "\n")),
		}
	}
	return items
}

func (item *queryItem) query() parser.Query {
	return item.doc.Queries[item.index]
}

// label is the folder/file:line column, line numbers 1-based
func (item *queryItem) label() string {
	return item.folder + "/" + item.file + ":" + strconv.Itoa(item.query().QueryFrom+1)
}

// matchesQuery checks if the item matches all search words
func (item *queryItem) matchesQuery(words []string) bool {
	for _, word := range words {
		if !strings.Contains(item.search, word) {
			return false
		}
	}
	return true
}

// ============================================================================
// Column Config
// ============================================================================

// columnConfig holds display column widths and gaps
type columnConfig struct {
	fileWidth  int
	queryWidth int
	gap        int
}

// loadColumnConfig loads column configuration from config
func loadColumnConfig() columnConfig {
	return columnConfig{
		fileWidth:  config.GetColumnFile(),
		queryWidth: config.GetColumnQuery(),
		gap:        config.GetColumnGap(),
	}
}

// ============================================================================
// Messages
// ============================================================================

// filterMsg triggers filtering after debounce
type filterMsg struct{}

// debounceFilter returns a command that triggers filtering after a delay
func debounceFilter() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg {
		return filterMsg{}
	})
}

// persistedMsg carries the outcome of a persist run
type persistedMsg struct {
	file  string
	whole bool
	res   persist.Result
	err   error
}

// editorClosedMsg is sent when the external editor exits
type editorClosedMsg struct {
	file string
	err  error
}

// ============================================================================
// Main Model
// ============================================================================

// mainModel is the Bubble Tea model of the query browser
type mainModel struct {
	width     int
	height    int
	textInput textinput.Model
	quitting  bool

	items    []queryItem
	filtered []queryItem
	cursor   int
	offset   int // viewport scroll offset
	columns  columnConfig

	status    string
	statusErr bool
	busy      bool

	ctx       context.Context
	state     *matcher.State
	persister Persister
}

// newMainModel creates a new mainModel over the queries in index
func newMainModel(ctx context.Context, index *parser.Index, state *matcher.State, p Persister) mainModel {
	ti := textinput.New()
	ti.Placeholder = "Type to search..."
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 50

	var items []queryItem
	for _, doc := range index.Documents {
		items = append(items, newQueryItems(doc)...)
	}

	return mainModel{
		textInput: ti,
		items:     items,
		filtered:  items,
		columns:   loadColumnConfig(),
		ctx:       ctx,
		state:     state,
		persister: p,
	}
}

// Init implements tea.Model
func (m mainModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model
func (m mainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.textInput.Width = msg.Width - 4
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	case filterMsg:
		m.filterItems()
		return m, nil
	case persistedMsg:
		m.handlePersisted(msg)
		return m, nil
	case editorClosedMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("editor: %v", msg.err), true)
		}
		m.reload(msg.file)
		return m, nil
	}

	prevQuery := m.textInput.Value()
	var tiCmd tea.Cmd
	m.textInput, tiCmd = m.textInput.Update(msg)
	cmds = append(cmds, tiCmd)

	// Only trigger debounced filter if query changed
	if m.textInput.Value() != prevQuery {
		cmds = append(cmds, debounceFilter())
	}

	return m, tea.Batch(cmds...)
}

// handleKey processes navigation and action keys.
// Keys that are not handled fall through to the text input.
func (m *mainModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return tea.Quit, true
	case "enter":
		return m.startPersist(false), true
	case "ctrl+r":
		return m.startPersist(true), true
	case "up", "ctrl+p":
		m.moveCursor(-1)
	case "down", "ctrl+n":
		m.moveCursor(1)
	case "pgup":
		m.moveCursor(-10)
	case "pgdown":
		m.moveCursor(10)
	case "home", "ctrl+a":
		m.cursor = 0
		m.adjustOffset()
	case "end", "ctrl+e":
		m.cursor = max(0, len(m.filtered)-1)
		m.adjustOffset()
	case "ctrl+o":
		if item, ok := m.current(); ok {
			return openInEditor(item.doc.File, item.query().QueryFrom+1), true
		}
	default:
		return nil, false
	}
	return nil, true
}

// current returns the item under the cursor
func (m *mainModel) current() (queryItem, bool) {
	if m.cursor < 0 || m.cursor >= len(m.filtered) {
		return queryItem{}, false
	}
	return m.filtered[m.cursor], true
}

// startPersist persists the selected query, or its whole file
func (m *mainModel) startPersist(whole bool) tea.Cmd {
	item, ok := m.current()
	if !ok || m.busy {
		return nil
	}
	m.busy = true
	m.setStatus("persisting "+item.label()+"...", false)

	ctx, p := m.ctx, m.persister
	file, line := item.doc.File, item.query().QueryFrom
	return func() tea.Msg {
		var res persist.Result
		var err error
		if whole {
			res, err = p.PersistFile(ctx, file)
		} else {
			res, err = p.PersistQueryAt(ctx, file, line)
		}
		return persistedMsg{file: file, whole: whole, res: res, err: err}
	}
}

// handlePersisted updates status and reloads the persisted document
func (m *mainModel) handlePersisted(msg persistedMsg) {
	m.busy = false
	name := filepath.Base(msg.file)

	switch {
	case msg.err != nil:
		m.setStatus(fmt.Sprintf("%s: %v", name, msg.err), true)
		return
	case len(msg.res.Errors) > 0:
		m.setStatus(fmt.Sprintf("%s: %d changed, %d failed: %v", name, msg.res.Changed, len(msg.res.Errors), msg.res.Errors[0]), true)
	case msg.res.Modified():
		m.setStatus(fmt.Sprintf("%s: %d of %d results updated", name, msg.res.Changed, msg.res.Queries), false)
	default:
		m.setStatus(name+": up to date", false)
	}

	m.reload(msg.file)
}

func (m *mainModel) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// reload re-parses file and swaps its items in place
func (m *mainModel) reload(file string) {
	index, err := parser.NewParser(m.state).ParseSingleFile(file)
	if err != nil {
		m.setStatus(fmt.Sprintf("reload: %v", err), true)
		return
	}

	var fresh []queryItem
	for _, doc := range index.Documents {
		fresh = append(fresh, newQueryItems(doc)...)
	}

	items := make([]queryItem, 0, len(m.items)+len(fresh))
	inserted := false
	for _, item := range m.items {
		if item.doc.File != file {
			items = append(items, item)
			continue
		}
		if !inserted {
			items = append(items, fresh...)
			inserted = true
		}
	}
	if !inserted {
		items = append(items, fresh...)
	}

	m.items = items
	m.filterItems()
}

// moveCursor moves the cursor by delta, clamping to valid range
func (m *mainModel) moveCursor(delta int) {
	m.cursor += delta
	m.cursor = clamp(m.cursor, 0, max(0, len(m.filtered)-1))
	m.adjustOffset()
}

// adjustOffset ensures cursor is visible within viewport
func (m *mainModel) adjustOffset() {
	viewHeight := max(m.height-previewHeight-4, 3) // approximate list height
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+viewHeight {
		m.offset = m.cursor - viewHeight + 1
	}
	maxOffset := max(0, len(m.filtered)-viewHeight)
	m.offset = clamp(m.offset, 0, maxOffset)
}

// filterItems filters the query list based on the search input
func (m *mainModel) filterItems() {
	query := strings.TrimSpace(m.textInput.Value())

	if query == "" {
		m.filtered = m.items
	} else {
		words := strings.Fields(strings.ToLower(query))
		m.filtered = make([]queryItem, 0, min(len(m.items), 1000))
		for i := range m.items {
			if m.items[i].matchesQuery(words) {
				m.filtered = append(m.filtered, m.items[i])
				// Limit results to prevent UI lag
				if len(m.filtered) >= 1000 {
					break
				}
			}
		}
	}

	m.cursor = clamp(m.cursor, 0, max(0, len(m.filtered)-1))
	m.adjustOffset()
}

// ============================================================================
// Rendering
// ============================================================================

const previewHeight = 10

// View implements tea.Model
func (m mainModel) View() string {
	if m.quitting {
		return ""
	}

	width := max(m.width, 80)
	height := max(m.height, 24)

	preview := m.renderPreview(width)
	previewLines := countLines(preview)

	inputLines := 4 // divider + info + status + input
	listHeight := max(height-previewLines-inputLines, 3)
	list := m.renderList(listHeight, width)
	listLines := countLines(list)

	padding := max(height-previewLines-listLines-inputLines, 0)

	b := getBuilder()
	defer putBuilder(b)
	b.WriteString(preview)
	b.WriteString(list)
	b.WriteString(strings.Repeat("\n", padding))
	b.WriteString(m.renderInput(width))

	return b.String()
}

// renderPreview shows the selected query and its current result
func (m mainModel) renderPreview(width int) string {
	b := getBuilder()
	defer putBuilder(b)
	lines := 0

	if item, ok := m.current(); ok {
		q := item.query()
		b.WriteString(styles.PreviewFile.Render(item.doc.File + ":" + strconv.Itoa(q.QueryFrom+1)))
		b.WriteString(styles.Dim.Render(fmt.Sprintf("  (%s, result %s-%s)", q.Matcher.ID(), q.ResultFrom, q.ResultTo)))
		b.WriteString("\n")
		lines++

		if item.index < len(item.doc.Headers) && item.doc.Headers[item.index] != "" {
			b.WriteString(styles.PreviewHeader.Render(item.doc.Headers[item.index]))
			b.WriteString("\n")
			lines++
		}

		text := truncateLines(q.Query, 3, width)
		b.WriteString(styles.PreviewQuery.Render(text))
		b.WriteString("\n")
		lines += strings.Count(text, "\n") + 1

		result := strings.Trim(item.doc.Result(item.index), "\n")
		if result == "" {
			result = "(no result yet)"
		}
		if remaining := previewHeight - lines - 1; remaining > 0 {
			b.WriteString("\n")
			lines++
			text := truncateLines(result, remaining, width)
			b.WriteString(styles.PreviewResult.Render(text))
			b.WriteString("\n")
			lines += strings.Count(text, "\n") + 1
		}
	}

	// Pad to fixed height
	for lines < previewHeight {
		b.WriteString("\n")
		lines++
	}

	b.WriteString(styles.Divider.Render(strings.Repeat("─", width)))
	b.WriteString("\n")

	return b.String()
}

// renderList renders the scrollable list of queries
func (m *mainModel) renderList(maxHeight, width int) string {
	if len(m.filtered) == 0 {
		return ""
	}

	start, end := scrollWindow(m.cursor, len(m.filtered), maxHeight, &m.offset)
	gap := strings.Repeat(" ", m.columns.gap)
	queryWidth := m.calculateQueryWidth(width)

	b := getBuilder()
	defer putBuilder(b)
	for i := start; i < end; i++ {
		b.WriteString(m.renderListItem(m.filtered[i], i == m.cursor, gap, queryWidth))
		b.WriteString("\n")
	}

	return b.String()
}

// renderListItem renders a single list row
func (m mainModel) renderListItem(item queryItem, selected bool, gap string, queryWidth int) string {
	fStyle, qStyle := styles.File, styles.Query
	gapStr := gap
	if selected {
		fStyle = styles.WithSelection(fStyle)
		qStyle = styles.WithSelection(qStyle)
		gapStr = styles.Selected.Render(gap)
	}

	label := runewidth.FillRight(truncateString(item.label(), m.columns.fileWidth), m.columns.fileWidth)
	query := truncateString(oneLine(item.query().Query), queryWidth)

	line := fStyle.Render(label) + gapStr + qStyle.Render(query)
	if selected {
		return styles.Cursor.Render("▶ ") + line
	}
	return "  " + line
}

// calculateQueryWidth returns the available width for the query column
func (m mainModel) calculateQueryWidth(width int) int {
	maxQuery := m.columns.queryWidth
	if available := width - m.columns.fileWidth - m.columns.gap - 2; available > 0 && available < maxQuery {
		maxQuery = available
	}
	return maxQuery
}

// renderInput renders the input section at the bottom
func (m mainModel) renderInput(width int) string {
	b := getBuilder()
	defer putBuilder(b)
	b.WriteString(styles.Divider.Render(strings.Repeat("─", width)))
	b.WriteString("\n")
	b.WriteString(styles.Dim.Render(fmt.Sprintf("  %d/%d", len(m.filtered), len(m.items))))
	b.WriteString(" • ")
	b.WriteString(styles.Dim.Render("Enter persist"))
	b.WriteString(" • ")
	b.WriteString(styles.Dim.Render("Ctrl+R persist file"))
	b.WriteString(" • ")
	b.WriteString(styles.Dim.Render("Ctrl+O open"))
	b.WriteString(" • ")
	b.WriteString(styles.Dim.Render("ESC exit"))
	b.WriteString("\n")
	status := truncateString(m.status, width-2)
	if m.statusErr {
		b.WriteString("  " + styles.StatusError.Render(status))
	} else {
		b.WriteString("  " + styles.StatusOK.Render(status))
	}
	b.WriteString("\n")
	b.WriteString(m.textInput.View())
	return b.String()
}

// ============================================================================
// Run TUI
// ============================================================================

// getTTY returns file handles for TUI input/output
// Uses /dev/tty to bypass shell pipes and command substitution
func getTTY() (in *os.File, out *os.File, cleanup func()) {
	var closers []func()

	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		// stdout is NOT a terminal - we're being captured
		out, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
		if err != nil {
			out = os.Stderr // Last resort fallback
		} else {
			closers = append(closers, func() { out.Close() })
		}

		in, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
		if err != nil {
			in = os.Stdin
		} else {
			closers = append(closers, func() { in.Close() })
		}

		// Tell lipgloss to use the TTY for color detection
		lipgloss.SetDefaultRenderer(lipgloss.NewRenderer(out))

		return in, out, func() {
			for _, c := range closers {
				c()
			}
		}
	}

	return os.Stdin, os.Stdout, func() {}
}

// Run launches the query browser
func Run(ctx context.Context, index *parser.Index, state *matcher.State, p Persister) error {
	if index.QueryCount() == 0 {
		return fmt.Errorf("no queries found")
	}

	m := newMainModel(ctx, index, state, p)

	ttyIn, ttyOut, cleanup := getTTY()
	RefreshStyles() // Refresh after getTTY sets up the renderer
	prog := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithOutput(ttyOut),
		tea.WithInput(ttyIn),
		tea.WithContext(ctx),
	)
	_, err := prog.Run()
	cleanup()
	return err
}

// ============================================================================
// Helpers
// ============================================================================

// clamp restricts v to the range [minV, maxV]
func clamp(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// countLines counts the number of lines in a string
func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// scrollWindow calculates the visible range for a scrollable list
func scrollWindow(cursor, total, height int, offset *int) (start, end int) {
	if cursor < *offset {
		*offset = cursor
	}
	if cursor >= *offset+height {
		*offset = cursor - height + 1
	}
	maxOffset := max(0, total-height)
	*offset = clamp(*offset, 0, maxOffset)

	start = *offset
	end = min(start+height, total)
	return
}

// truncateString truncates s to maxWidth display columns with an ellipsis
func truncateString(s string, maxWidth int) string {
	if maxWidth <= 1 {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "…")
}

// truncateLines keeps at most maxLines lines, each cut to maxWidth columns
func truncateLines(text string, maxLines, maxWidth int) string {
	lines := strings.Split(text, "\n")
	more := len(lines) > maxLines
	if more {
		lines = lines[:maxLines]
	}
	if maxWidth > 0 {
		for i, line := range lines {
			lines[i] = truncateString(line, maxWidth)
		}
	}
	if more {
		lines[len(lines)-1] += " …"
	}
	return strings.Join(lines, "\n")
}

// oneLine joins a multi-line query for single-row display
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// openInEditor suspends the TUI and opens file at line in $EDITOR,
// falling back to the system default viewer
func openInEditor(file string, line int) tea.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		openFileInViewer(file)
		return nil
	}

	args := strings.Fields(editor)
	args = append(args, "+"+strconv.Itoa(line), file)
	cmd := exec.Command(args[0], args[1:]...)
	return tea.ExecProcess(cmd, func(err error) tea.Msg {
		return editorClosedMsg{file: file, err: err}
	})
}

// openFileInViewer opens the file with the system default application
func openFileInViewer(filePath string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", filePath)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", filePath)
	default: // linux, freebsd, etc.
		cmd = exec.Command("xdg-open", filePath)
	}
	_ = cmd.Start()
}
