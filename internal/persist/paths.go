package persist

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gubarz/dvpersist/internal/parser"
)

// Report summarises a persist run over several paths
type Report struct {
	Files   int      // documents containing queries
	Queries int      // queries found
	Changed []string // documents whose content changed
	Errors  []error
}

// Add folds a document result into the report
func (r *Report) Add(res Result) {
	r.Files++
	r.Queries += res.Queries
	if res.Modified() {
		r.Changed = append(r.Changed, res.File)
	}
	r.Errors = append(r.Errors, res.Errors...)
}

// Index parses the markdown files under paths
func (p *Persister) Index(paths []string) (*parser.Index, error) {
	prs := parser.NewParser(p.State())
	var index *parser.Index
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("path error: %w", err)
		}
		if info.IsDir() {
			index, err = prs.ParseDirectory(path)
		} else {
			index, err = prs.ParseSingleFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("parse error: %w", err)
		}
	}
	if index == nil {
		index = parser.NewIndex()
	}
	return index, nil
}

// PersistPaths persists every markdown file under paths.
// A failing document is recorded in the report and the run continues.
func (p *Persister) PersistPaths(ctx context.Context, paths []string) (Report, error) {
	var report Report

	index, err := p.Index(paths)
	if err != nil {
		return report, err
	}

	for _, doc := range index.Documents {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := p.PersistContent(ctx, doc.File, doc.Content)
		if err == nil {
			err = p.write(doc.File, res)
		}
		if err != nil {
			if ctx.Err() != nil {
				return report, err
			}
			p.logger.Error("error persisting file", zap.String("file", doc.File), zap.Error(err))
			report.Errors = append(report.Errors, err)
			// a missing engine fails every document the same way
			if isFatal(err) {
				return report, err
			}
			continue
		}
		report.Add(res)
	}

	p.logger.Debug("persist run finished",
		zap.Int("files", report.Files),
		zap.Int("queries", report.Queries),
		zap.Int("changed", len(report.Changed)),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}
