package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/gubarz/dvpersist/internal/config"
)

// ============================================================================
// Engine Interface
// ============================================================================

// Engine evaluates a query on behalf of the note at file and returns Markdown
type Engine interface {
	Evaluate(ctx context.Context, query, file string) (string, error)
}

// ErrNoEngine is returned when no engine command is configured
var ErrNoEngine = errors.New("no query engine configured")

// EngineError is a failed evaluation. Its message is what gets persisted
// when errors are written into the document.
type EngineError struct {
	Query  string
	Stderr string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Clipboard Interface
// ============================================================================

// Clipboard defines the interface for clipboard operations
type Clipboard interface {
	Copy(text string) error
}

// systemClipboard implements Clipboard using system commands
type systemClipboard struct {
	fallback io.Writer
}

// Copy copies text to the system clipboard
func (c *systemClipboard) Copy(text string) error {
	cmd := c.findClipboardCommand()
	if cmd == nil {
		// No clipboard tool found, just print
		_, err := fmt.Fprintln(c.fallback, text)
		return err
	}
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// findClipboardCommand returns the appropriate clipboard command for the system
func (c *systemClipboard) findClipboardCommand() *exec.Cmd {
	switch {
	case commandExists("wl-copy"):
		return exec.Command("wl-copy")
	case commandExists("xclip"):
		return exec.Command("xclip", "-selection", "clipboard")
	case commandExists("xsel"):
		return exec.Command("xsel", "--clipboard", "--input")
	case commandExists("pbcopy"):
		return exec.Command("pbcopy")
	default:
		return nil
	}
}

// commandExists checks if a command is available in PATH
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ============================================================================
// Shell Engine
// ============================================================================

var placeholderRe = regexp.MustCompile(`\$(query|file)\b`)

// ShellEngine evaluates queries by running Command through Shell.
// $query and $file in Command expand to shell-quoted values and the query
// text is also fed on stdin.
type ShellEngine struct {
	Shell   string
	Command string
	Timeout time.Duration
	Dir     string
}

// NewShellEngine creates a ShellEngine
func NewShellEngine(shell, command string, timeout time.Duration) *ShellEngine {
	return &ShellEngine{
		Shell:   shell,
		Command: command,
		Timeout: timeout,
	}
}

// Evaluate runs the engine command for one query
func (e *ShellEngine) Evaluate(ctx context.Context, query, file string) (string, error) {
	if strings.TrimSpace(e.Command) == "" {
		return "", ErrNoEngine
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	command := BuildCommand(e.Command, query, file)
	cmd := exec.CommandContext(ctx, e.Shell, "-c", command)
	cmd.Env = append(os.Environ(), "DVPERSIST_QUERY="+query, "DVPERSIST_FILE="+file)
	cmd.Dir = e.Dir
	cmd.Stdin = strings.NewReader(query)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("query timed out: %w", ctxErr)
		}
		return "", &EngineError{
			Query:  query,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	return strings.Trim(stdout.String(), "\r\n"), nil
}

// BuildCommand expands $query and $file in template in a single pass
func BuildCommand(template, query, file string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		if match == "$query" {
			return ShellQuote(query)
		}
		return ShellQuote(file)
	})
}

// ShellQuote quotes s for POSIX shells
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ============================================================================
// Executor
// ============================================================================

// Executor evaluates queries and routes the resulting text to an output
type Executor struct {
	engine    Engine
	clipboard Clipboard
	out       io.Writer
}

// NewExecutor creates an executor backed by the configured shell engine
func NewExecutor() *Executor {
	return New(NewShellEngine(config.GetShell(), config.GetEngine(), config.GetTimeout()))
}

// New creates an executor around engine
func New(engine Engine) *Executor {
	return &Executor{
		engine:    engine,
		clipboard: &systemClipboard{fallback: os.Stdout},
		out:       os.Stdout,
	}
}

// WithClipboard sets a custom clipboard implementation (useful for testing)
func (e *Executor) WithClipboard(c Clipboard) *Executor {
	e.clipboard = c
	return e
}

// WithOutput sets where printed output goes
func (e *Executor) WithOutput(w io.Writer) *Executor {
	e.out = w
	if sc, ok := e.clipboard.(*systemClipboard); ok {
		sc.fallback = w
	}
	return e
}

// Engine returns the underlying engine
func (e *Executor) Engine() Engine {
	return e.engine
}

// Evaluate delegates to the engine
func (e *Executor) Evaluate(ctx context.Context, query, file string) (string, error) {
	return e.engine.Evaluate(ctx, query, file)
}

// ============================================================================
// Output Handling
// ============================================================================

// OutputMode represents where persisted text ends up
type OutputMode string

const (
	OutputPrint OutputMode = "print"
	OutputCopy  OutputMode = "copy"
	OutputWrite OutputMode = "write"
)

// ParseOutputMode validates a mode name
func ParseOutputMode(s string) (OutputMode, error) {
	switch mode := OutputMode(s); mode {
	case OutputPrint, OutputCopy, OutputWrite:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (supported: print, copy, write)", s)
	}
}

// Output handles text based on the configured mode
func (e *Executor) Output(text string) error {
	mode := OutputMode(config.GetOutput())
	return e.OutputWithMode(text, mode)
}

// OutputWithMode handles text with an explicit mode.
// Write mode is applied to the document by the caller, so here it prints.
func (e *Executor) OutputWithMode(text string, mode OutputMode) error {
	switch mode {
	case OutputCopy:
		return e.clipboard.Copy(text)
	default: // print, write
		_, err := fmt.Fprint(e.out, text)
		return err
	}
}
