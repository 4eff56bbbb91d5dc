package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gubarz/dvpersist/internal/config"
	"github.com/gubarz/dvpersist/internal/executor"
	"github.com/gubarz/dvpersist/internal/logging"
	"github.com/gubarz/dvpersist/internal/matcher"
	"github.com/gubarz/dvpersist/internal/persist"
)

var version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dvpersist [paths...]",
	Short: "Persist query results into Markdown",
	Long: `Finds query comments such as %%dv ... %% or <!--dv ... --> in Markdown
files, evaluates them with the configured engine and writes the result
directly below each comment.

Running it again replaces the previously written result, so the
document always holds the latest output.`,
	SilenceUsage: true,
	RunE:         runPersist,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(checkCmd, listCmd, queryCmd, watchCmd, browseCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/dvpersist/dvpersist.yaml)")
	rootCmd.PersistentFlags().String("comment-header", "", "Comma-separated comment identifiers")
	rootCmd.PersistentFlags().StringP("engine", "e", "", "Engine command template, $query and $file are substituted")
	rootCmd.PersistentFlags().BoolP("force", "f", false, "Always fence results")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: TRACE, DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Per-query evaluation timeout")

	rootCmd.Flags().Bool("print", false, "Print updated documents instead of writing them")

	viper.BindPFlag("comment_header", rootCmd.PersistentFlags().Lookup("comment-header"))
	viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	viper.BindPFlag("force_fence", rootCmd.PersistentFlags().Lookup("force"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func initConfig() {
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
	}
}

// resolvePaths returns absolute paths for args, or the configured path
func resolvePaths(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{config.GetPath()}
	}
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("error resolving path: %w", err)
		}
		paths = append(paths, abs)
	}
	return paths, nil
}

// app bundles what every command builds from the configuration
type app struct {
	logger    *zap.Logger
	exec      *executor.Executor
	persister *persist.Persister
}

func newApp(dryRun bool) (*app, error) {
	logger, err := logging.New(config.GetLogLevel())
	if err != nil {
		return nil, err
	}

	exec := executor.NewExecutor()
	state := matcher.PrepareState(config.Settings())
	p := persist.New(state, exec, logger, persist.Options{
		Force:         config.GetForceFence(),
		PersistErrors: config.GetPersistErrors(),
		ShortenLinks:  config.GetShortenLinks(),
		DryRun:        dryRun,
	})

	logger.Debug("configuration loaded",
		zap.String("config", viper.ConfigFileUsed()),
		zap.String("comment_header", config.GetCommentHeader()),
		zap.Int("identifiers", len(state.Identifiers)))

	return &app{logger: logger, exec: exec, persister: p}, nil
}

func runPersist(cmd *cobra.Command, args []string) error {
	if p, _ := cmd.Flags().GetBool("print"); p {
		config.SetOutput(string(executor.OutputPrint))
	}
	mode, err := executor.ParseOutputMode(config.GetOutput())
	if err != nil {
		return err
	}

	paths, err := resolvePaths(args)
	if err != nil {
		return err
	}

	a, err := newApp(mode != executor.OutputWrite)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	if mode != executor.OutputWrite {
		return printPersisted(cmd, a, paths, mode)
	}

	report, err := a.persister.PersistPaths(cmd.Context(), paths)
	if err != nil {
		return err
	}
	for _, file := range report.Changed {
		fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", file)
	}
	return reportErr(report)
}

// printPersisted outputs the updated content of every document holding
// queries without touching the files
func printPersisted(cmd *cobra.Command, a *app, paths []string, mode executor.OutputMode) error {
	index, err := a.persister.Index(paths)
	if err != nil {
		return err
	}
	a.exec.WithOutput(cmd.OutOrStdout())
	for _, doc := range index.Documents {
		res, err := a.persister.PersistContent(cmd.Context(), doc.File, doc.Content)
		if err != nil {
			return fmt.Errorf("%s: %w", doc.File, err)
		}
		if err := a.exec.OutputWithMode(res.Content, mode); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	rootCmd.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
