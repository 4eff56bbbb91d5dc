package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gubarz/dvpersist/internal/config"
	"github.com/gubarz/dvpersist/internal/editor"
	"github.com/gubarz/dvpersist/internal/executor"
	"github.com/gubarz/dvpersist/internal/matcher"
	"github.com/gubarz/dvpersist/internal/parser"
	"github.com/gubarz/dvpersist/internal/persist"
	"github.com/gubarz/dvpersist/internal/ui"
	"github.com/gubarz/dvpersist/internal/watch"
)

var errStale = errors.New("persisted results are out of date")

var checkCmd = &cobra.Command{
	Use:   "check [paths...]",
	Short: "Report documents whose results are out of date",
	Long: `Evaluates every query without writing anything and lists the
documents that would change. Exits non-zero when any would.`,
	RunE: runCheck,
}

var listCmd = &cobra.Command{
	Use:   "list [paths...]",
	Short: "List the queries found in documents",
	RunE:  runList,
}

var queryCmd = &cobra.Command{
	Use:   "query <file> <line>",
	Short: "Evaluate the query at a line and output its result",
	Long: `Finds the query comment spanning the given 1-based line, evaluates it
and prints the text that would be persisted below it.`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Persist results whenever documents change",
	RunE:  runWatch,
}

var browseCmd = &cobra.Command{
	Use:   "browse [paths...]",
	Short: "Browse queries interactively and persist them on demand",
	RunE:  runBrowse,
}

func init() {
	listCmd.Flags().String("format", "text", "Output format: text, yaml")
	queryCmd.Flags().Bool("copy", false, "Copy the result to the clipboard instead of printing it")
}

func runCheck(cmd *cobra.Command, args []string) error {
	paths, err := resolvePaths(args)
	if err != nil {
		return err
	}
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	report, err := a.persister.PersistPaths(cmd.Context(), paths)
	if err != nil {
		return err
	}
	for _, file := range report.Changed {
		fmt.Fprintln(cmd.OutOrStdout(), file)
	}
	if err := reportErr(report); err != nil {
		return err
	}
	if len(report.Changed) > 0 {
		return fmt.Errorf("%d of %d files: %w", len(report.Changed), report.Files, errStale)
	}
	return nil
}

// reportErr summarises the failures of a run. Errors are counted rather
// than files since one document may hold several failed queries.
func reportErr(report persist.Report) error {
	if len(report.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%d errors: %w", len(report.Errors), errors.Join(report.Errors...))
}

// listEntry is one query in list output, lines 1-based
type listEntry struct {
	File       string          `yaml:"file"`
	Line       int             `yaml:"line"`
	EndLine    int             `yaml:"end_line"`
	Identifier string          `yaml:"identifier"`
	Query      string          `yaml:"query"`
	Header     string          `yaml:"header,omitempty"`
	ResultTo   editor.Position `yaml:"result_to"`
}

func runList(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "yaml" {
		return fmt.Errorf("unknown format %q (supported: text, yaml)", format)
	}

	paths, err := resolvePaths(args)
	if err != nil {
		return err
	}
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	index, err := a.persister.Index(paths)
	if err != nil {
		return err
	}

	var entries []listEntry
	for _, doc := range index.Documents {
		for i, q := range doc.Queries {
			entries = append(entries, listEntry{
				File:       doc.File,
				Line:       q.QueryFrom + 1,
				EndLine:    q.QueryTo + 1,
				Identifier: q.Matcher.ID(),
				Query:      q.Query,
				Header:     doc.Headers[i],
				ResultTo:   q.ResultTo,
			})
		}
	}

	if format == "yaml" {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	}
	return writeList(cmd.OutOrStdout(), entries)
}

func writeList(w io.Writer, entries []listEntry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s:%d\t%s\t%s\n", e.File, e.Line, e.Identifier, oneLine(e.Query)); err != nil {
			return err
		}
	}
	return nil
}

// oneLine collapses whitespace so a query fits on a single line
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runQuery(cmd *cobra.Command, args []string) error {
	file, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("error resolving path: %w", err)
	}
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		return fmt.Errorf("invalid line %q: must be a positive number", args[1])
	}

	mode := executor.OutputPrint
	if c, _ := cmd.Flags().GetBool("copy"); c {
		mode = executor.OutputCopy
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	q, ok := parser.IdentifyQuery(a.persister.State(), line-1, parser.SplitLines(string(data)))
	if !ok {
		return fmt.Errorf("%s:%d: no query at line", file, line)
	}

	// a persisted error callout is still output before the error is returned
	text, evalErr := a.persister.Replacement(cmd.Context(), file, q)
	if text == "" {
		return evalErr
	}
	if err := a.exec.WithOutput(cmd.OutOrStdout()).OutputWithMode(text, mode); err != nil {
		return err
	}
	return evalErr
}

func runWatch(cmd *cobra.Command, args []string) error {
	paths, err := resolvePaths(args)
	if err != nil {
		return err
	}
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	ctx := cmd.Context()
	p := watch.Serialized(a.persister)

	// bring every document up to date before waiting for changes
	if _, err := p.PersistPaths(ctx, paths); err != nil {
		return err
	}

	w, err := watch.NewWatcher(p, a.logger, config.GetDebounce())
	if err != nil {
		return err
	}
	if err := w.Add(paths); err != nil {
		return err
	}
	w.OnPersist = func(res persist.Result, err error) {
		if err == nil && res.Modified() {
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", res.File)
		}
	}

	config.Watch(func() {
		state := matcher.PrepareState(config.Settings())
		a.persister.SetState(state)
		a.logger.Info("configuration reloaded",
			zap.String("comment_header", config.GetCommentHeader()))
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sched *watch.Scheduler
	if interval := config.GetRefreshInterval(); interval > 0 {
		sched, err = watch.NewScheduler(p, a.logger)
		if err != nil {
			return err
		}
		if _, err := sched.ScheduleRefresh(ctx, interval, paths); err != nil {
			return err
		}
	}

	errs := make(chan error, 2)
	running := 1
	go func() { errs <- w.Run(ctx) }()
	if sched != nil {
		running++
		go func() { errs <- sched.Run(ctx) }()
	}

	a.logger.Info("watching", zap.Strings("paths", paths))

	var firstErr error
	for ; running > 0; running-- {
		if err := <-errs; err != nil && firstErr == nil && !errors.Is(err, context.Canceled) {
			firstErr = err
		}
		// either one stopping stops the other
		cancel()
	}
	return firstErr
}

func runBrowse(cmd *cobra.Command, args []string) error {
	paths, err := resolvePaths(args)
	if err != nil {
		return err
	}
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	index, err := a.persister.Index(paths)
	if err != nil {
		return err
	}
	return ui.Run(cmd.Context(), index, a.persister.State(), a.persister)
}
