package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gubarz/dvpersist/internal/editor"
	"github.com/gubarz/dvpersist/internal/executor"
	"github.com/gubarz/dvpersist/internal/matcher"
	"github.com/gubarz/dvpersist/internal/parser"
)

// ErrNoQuery is returned when no query spans the requested line
var ErrNoQuery = errors.New("no query at line")

// Options control how results are written
type Options struct {
	Force         bool // fence every result
	PersistErrors bool // write failed evaluations as an error callout
	ShortenLinks  bool // rewrite [[target|alias]] as [[alias]]
	DryRun        bool // compute changes without writing files
}

// QueryError is a failed evaluation of one query
type QueryError struct {
	File  string
	Line  int
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line+1, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Result describes one persisted document
type Result struct {
	File    string
	Content string // content after persisting
	Queries int    // queries found
	Changed int    // results rewritten
	Errors  []error
}

// Modified reports whether the document content changed
func (r Result) Modified() bool {
	return r.Changed > 0
}

// Persister evaluates comment queries and writes their results back into documents
type Persister struct {
	state  atomic.Pointer[matcher.State]
	engine executor.Engine
	logger *zap.Logger
	opts   Options
}

// New creates a Persister
func New(state *matcher.State, engine executor.Engine, logger *zap.Logger, opts Options) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Persister{
		engine: engine,
		logger: logger,
		opts:   opts,
	}
	p.state.Store(state)
	return p
}

// State returns the matcher state in use
func (p *Persister) State() *matcher.State {
	return p.state.Load()
}

// SetState swaps the matcher state, e.g. after a configuration change.
// Runs already in progress keep the state they started with.
func (p *Persister) SetState(state *matcher.State) {
	p.state.Store(state)
}

// Options returns the persist options
func (p *Persister) Options() Options {
	return p.opts
}

// Replacement evaluates q and returns the text that belongs in its result range.
// With PersistErrors set, a failed evaluation returns the error callout
// together with the error, so callers can both write and report it.
// Fatal and context errors never come with text.
func (p *Persister) Replacement(ctx context.Context, file string, q parser.Query) (string, error) {
	text, err := p.engine.Evaluate(ctx, q.Query, file)
	if err != nil {
		if isFatal(err) || ctx.Err() != nil || !p.opts.PersistErrors {
			return "", err
		}
		return q.Matcher.FenceResult(ErrorCallout(err), p.opts.Force), err
	}
	if p.opts.ShortenLinks {
		text = ShortenLinks(text)
	}
	return q.Matcher.FenceResult(text, p.opts.Force), nil
}

// PersistContent replaces the result of every query in content.
// Queries are evaluated in document order and applied bottom-up so that
// earlier positions stay valid.
func (p *Persister) PersistContent(ctx context.Context, file, content string) (Result, error) {
	ed := editor.New(content)
	queries := parser.FindAllQueries(p.State(), ed)
	res := Result{File: file, Content: content, Queries: len(queries)}

	replacements := make([]*string, len(queries))
	for i, q := range queries {
		text, err := p.Replacement(ctx, file, q)
		if err != nil {
			if isFatal(err) {
				return res, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("persisting %s: %w", file, ctxErr)
			}
			qe := &QueryError{File: file, Line: q.QueryFrom, Query: q.Query, Err: err}
			res.Errors = append(res.Errors, qe)
			p.logger.Warn("query failed",
				zap.String("file", file),
				zap.Int("line", q.QueryFrom+1),
				zap.Bool("persisted", text != ""),
				zap.Error(err))
			if text == "" {
				continue
			}
		}
		replacements[i] = &text
	}

	for i := len(queries) - 1; i >= 0; i-- {
		text := replacements[i]
		if text == nil {
			continue
		}
		q := queries[i]
		if ed.Slice(q.ResultFrom, q.ResultTo) == *text {
			continue
		}
		ed.ReplaceRange(*text, q.ResultFrom, q.ResultTo)
		res.Changed++
		p.logger.Debug("result replaced",
			zap.String("file", file),
			zap.Int("line", q.QueryFrom+1),
			zap.String("from", q.ResultFrom.String()),
			zap.String("to", q.ResultTo.String()))
	}

	res.Content = ed.Content()
	return res, nil
}

// PersistFile persists every query in the file at path.
// The file is rewritten once, and only when its content changed.
func (p *Persister) PersistFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{File: path}, fmt.Errorf("reading %s: %w", path, err)
	}

	res, err := p.PersistContent(ctx, path, string(data))
	if err != nil {
		return res, err
	}
	if err := p.write(path, res); err != nil {
		return res, err
	}
	return res, nil
}

// PersistQueryAt persists only the query whose comment spans line (0-based)
func (p *Persister) PersistQueryAt(ctx context.Context, path string, line int) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{File: path}, fmt.Errorf("reading %s: %w", path, err)
	}

	ed := editor.New(string(data))
	res := Result{File: path, Content: ed.Content()}

	q, ok := parser.IdentifyQuery(p.State(), line, ed)
	if !ok {
		return res, fmt.Errorf("%s:%d: %w", path, line+1, ErrNoQuery)
	}
	res.Queries = 1

	text, err := p.Replacement(ctx, path, q)
	if err != nil {
		qe := &QueryError{File: path, Line: q.QueryFrom, Query: q.Query, Err: err}
		if text == "" {
			return res, qe
		}
		res.Errors = append(res.Errors, qe)
	}

	if ed.Slice(q.ResultFrom, q.ResultTo) != text {
		ed.ReplaceRange(text, q.ResultFrom, q.ResultTo)
		res.Changed = 1
		res.Content = ed.Content()
	}

	if err := p.write(path, res); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Persister) write(path string, res Result) error {
	if !res.Modified() || p.opts.DryRun {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(res.Content), info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	p.logger.Info("persisted",
		zap.String("file", path),
		zap.Int("queries", res.Queries),
		zap.Int("changed", res.Changed))
	return nil
}

func isFatal(err error) bool {
	return errors.Is(err, executor.ErrNoEngine)
}

// ErrorCallout renders an evaluation error as a Markdown callout
func ErrorCallout(err error) string {
	var sb strings.Builder
	sb.WriteString("> [!error] Query failed")
	for _, line := range strings.Split(strings.TrimSpace(err.Error()), "\n") {
		sb.WriteString("\n> ")
		sb.WriteString(line)
	}
	return sb.String()
}
