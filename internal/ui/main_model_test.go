package ui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gubarz/dvpersist/internal/matcher"
	"github.com/gubarz/dvpersist/internal/parser"
	"github.com/gubarz/dvpersist/internal/persist"
)

var state = matcher.PrepareState(matcher.Settings{CommentHeader: matcher.DefaultCommentHeader})

type stubEngine map[string]string

func (s stubEngine) Evaluate(_ context.Context, query, _ string) (string, error) {
	return s[query], nil
}

func setup(t *testing.T) (mainModel, string) {
	t.Helper()
	dir := t.TempDir()
	recipes := filepath.Join(dir, "notes", "recipes.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(recipes), 0o755))
	require.NoError(t, os.WriteFile(recipes, []byte("# Soups\n%%dv list from \"soup\" %%\n\n%%dv table rating %%\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "books.md"), []byte("<!--dv list from \"books\" -->\n"), 0o644))

	index, err := parser.NewParser(state).ParseDirectory(dir)
	require.NoError(t, err)

	engine := stubEngine{`list from "soup"`: "- [[Tomato]]\n- [[Leek]]"}
	p := persist.New(state, engine, nil, persist.Options{})
	return newMainModel(context.Background(), index, state, p), recipes
}

func update(t *testing.T, m mainModel, msg tea.Msg) (mainModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(mainModel), cmd
}

func labels(items []queryItem) []string {
	var out []string
	for i := range items {
		out = append(out, items[i].label())
	}
	return out
}

func TestNewMainModel(t *testing.T) {
	m, _ := setup(t)
	require.Len(t, m.items, 3)
	assert.Contains(t, labels(m.items), "notes/recipes.md:2")
	assert.Contains(t, labels(m.items), "notes/recipes.md:4")
}

func TestFilterItems(t *testing.T) {
	m, _ := setup(t)

	m.textInput.SetValue("SOUP From")
	m.filterItems()
	assert.Equal(t, []string{"notes/recipes.md:2"}, labels(m.filtered))

	// every word must match, header text included
	m.textInput.SetValue("soups rating")
	m.filterItems()
	assert.Equal(t, []string{"notes/recipes.md:4"}, labels(m.filtered))

	m.textInput.SetValue("nothing matches")
	m.filterItems()
	assert.Empty(t, m.filtered)
	assert.Equal(t, 0, m.cursor)

	m.textInput.SetValue("")
	m.filterItems()
	assert.Len(t, m.filtered, 3)
}

func TestPersistSelected(t *testing.T) {
	m, recipes := setup(t)

	m.textInput.SetValue("soup from")
	m.filterItems()

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	// a second enter while busy is ignored
	_, again := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, again)

	m, _ = update(t, m, cmd())
	assert.False(t, m.busy)
	assert.False(t, m.statusErr)
	assert.Equal(t, "recipes.md: 1 of 1 results updated", m.status)

	data, err := os.ReadFile(recipes)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n\n- [[Tomato]]\n- [[Leek]]\n")

	// items were reloaded with the new result
	require.Len(t, m.items, 3)
	item, ok := m.current()
	require.True(t, ok)
	assert.Equal(t, "- [[Tomato]]\n- [[Leek]]\n", item.doc.Result(item.index))
	assert.Contains(t, m.View(), "[[Tomato]]")
}

func TestPersistWholeFile(t *testing.T) {
	m, recipes := setup(t)
	m.textInput.SetValue("rating")
	m.filterItems()

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	require.NotNil(t, cmd)
	msg := cmd().(persistedMsg)
	assert.True(t, msg.whole)
	assert.Equal(t, recipes, msg.file)

	m, _ = update(t, m, msg)
	assert.Equal(t, "recipes.md: 1 of 2 results updated", m.status)
}

func TestPersistError(t *testing.T) {
	m, recipes := setup(t)
	require.NoError(t, os.Remove(recipes))

	m.textInput.SetValue("soup from")
	m.filterItems()
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())

	assert.True(t, m.statusErr)
	assert.True(t, strings.HasPrefix(m.status, "recipes.md:"))
}

func TestNavigationAndQuit(t *testing.T) {
	m, _ := setup(t)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyPgDown})
	assert.Equal(t, 2, m.cursor)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.cursor)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Equal(t, "x", m.textInput.Value())
	assert.NotNil(t, cmd)

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Equal(t, "", m.View())
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "日本語…", truncateString("日本語テキスト", 7))
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "a\nb …", truncateLines("a\nb\nc", 2, 0))
	assert.Equal(t, "list from x", oneLine("list\n  from   x"))

	offset := 0
	start, end := scrollWindow(7, 10, 3, &offset)
	assert.Equal(t, 5, start)
	assert.Equal(t, 8, end)
}
