package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gubarz/dvpersist/internal/matcher"
)

// Config holds the application configuration
type Config struct {
	CommentHeader   string        `mapstructure:"comment_header"`
	LogLevel        string        `mapstructure:"log_level"`
	Engine          string        `mapstructure:"engine"`
	Shell           string        `mapstructure:"shell"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ForceFence      bool          `mapstructure:"force_fence"`
	PersistErrors   bool          `mapstructure:"persist_errors"`
	ShortenLinks    bool          `mapstructure:"shorten_links"`
	Path            string        `mapstructure:"path"`
	Output          string        `mapstructure:"output"`
	Debounce        time.Duration `mapstructure:"debounce"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	ColorFile       string        `mapstructure:"color_file"`
	ColorQuery      string        `mapstructure:"color_query"`
	ColorResult     string        `mapstructure:"color_result"`
	ColumnGap       int           `mapstructure:"column_gap"`
	ColumnFile      int           `mapstructure:"column_file"`
	ColumnQuery     int           `mapstructure:"column_query"`
}

// C is the global config instance
var C Config

// configFile is the explicit config path, empty to search
var configFile string

// Init initializes configuration with viper.
// A missing config file is fine, an unreadable one is not.
func Init() error {
	viper.SetDefault("comment_header", matcher.DefaultCommentHeader)
	viper.SetDefault("log_level", "WARN")
	viper.SetDefault("engine", "")
	viper.SetDefault("shell", getDefaultShell())
	viper.SetDefault("timeout", 30*time.Second)
	viper.SetDefault("force_fence", false)
	viper.SetDefault("persist_errors", false)
	viper.SetDefault("shorten_links", false)
	viper.SetDefault("path", ".")
	viper.SetDefault("output", "write")
	viper.SetDefault("debounce", 500*time.Millisecond)
	viper.SetDefault("refresh_interval", time.Duration(0)) // disabled
	viper.SetDefault("color_file", "36")                   // Cyan
	viper.SetDefault("color_query", "32")                  // Green
	viper.SetDefault("color_result", "90")                 // Gray
	viper.SetDefault("column_gap", 4)
	viper.SetDefault("column_file", 40)
	viper.SetDefault("column_query", 80)

	// SetConfigName clears any explicit file, so only one of the two is used
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("dvpersist")
		viper.SetConfigType("yaml")

		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "dvpersist"))
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("DVPERSIST")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return viper.Unmarshal(&C)
}

// SetConfigFile uses an explicit config file instead of the search paths.
// A missing explicit file is an error in Init. An empty path restores the search.
func SetConfigFile(path string) {
	if path == "" {
		configFile = ""
		return
	}
	configFile = expandTilde(path)
}

// Watch calls onChange whenever the loaded config file changes on disk
func Watch(onChange func()) {
	viper.OnConfigChange(func(fsnotify.Event) {
		_ = viper.Unmarshal(&C)
		onChange()
	})
	viper.WatchConfig()
}

// Settings returns the matcher settings derived from the configuration
func Settings() matcher.Settings {
	return matcher.Settings{CommentHeader: GetCommentHeader()}
}

// GetCommentHeader returns the comma-separated comment identifiers
func GetCommentHeader() string {
	return viper.GetString("comment_header")
}

// GetLogLevel returns the log level name
func GetLogLevel() string {
	return viper.GetString("log_level")
}

// GetEngine returns the query engine command template
func GetEngine() string {
	return viper.GetString("engine")
}

// GetShell returns the shell
func GetShell() string {
	return viper.GetString("shell")
}

// GetTimeout returns the per-query evaluation timeout
func GetTimeout() time.Duration {
	return viper.GetDuration("timeout")
}

// GetForceFence returns whether every result is fenced
func GetForceFence() bool {
	return viper.GetBool("force_fence")
}

// GetPersistErrors returns whether failed queries write their error
func GetPersistErrors() bool {
	return viper.GetBool("persist_errors")
}

// GetShortenLinks returns whether wiki links are shortened to their alias
func GetShortenLinks() bool {
	return viper.GetBool("shorten_links")
}

// GetPath returns the notes path with tilde expansion
func GetPath() string {
	path := viper.GetString("path")
	return expandTilde(path)
}

// expandTilde expands ~ to the user's home directory
func expandTilde(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GetOutput returns the output mode
func GetOutput() string {
	return viper.GetString("output")
}

// GetDebounce returns how long the watcher waits for a file to settle
func GetDebounce() time.Duration {
	return viper.GetDuration("debounce")
}

// GetRefreshInterval returns the periodic refresh interval, 0 when disabled
func GetRefreshInterval() time.Duration {
	return viper.GetDuration("refresh_interval")
}

// GetColorFile returns ANSI color code for the file column
func GetColorFile() string {
	return viper.GetString("color_file")
}

// GetColorQuery returns ANSI color code for query text
func GetColorQuery() string {
	return viper.GetString("color_query")
}

// GetColorResult returns ANSI color code for persisted results
func GetColorResult() string {
	return viper.GetString("color_result")
}

// GetColumnGap returns spacing between columns
func GetColumnGap() int {
	return viper.GetInt("column_gap")
}

// GetColumnFile returns max file column width
func GetColumnFile() int {
	return viper.GetInt("column_file")
}

// GetColumnQuery returns max query column width
func GetColumnQuery() int {
	return viper.GetInt("column_query")
}

// SetOutput sets output mode at runtime
func SetOutput(mode string) {
	viper.Set("output", mode)
	C.Output = mode
}

// SetPath sets path at runtime
func SetPath(path string) {
	viper.Set("path", path)
	C.Path = path
}

// SetCommentHeader sets the comment identifiers at runtime
func SetCommentHeader(header string) {
	viper.Set("comment_header", header)
	C.CommentHeader = header
}

// SetEngine sets the engine command at runtime
func SetEngine(engine string) {
	viper.Set("engine", engine)
	C.Engine = engine
}

// SetForceFence sets fencing of every result at runtime
func SetForceFence(force bool) {
	viper.Set("force_fence", force)
	C.ForceFence = force
}

// SetLogLevel sets the log level at runtime
func SetLogLevel(level string) {
	viper.Set("log_level", level)
	C.LogLevel = level
}

// SetTimeout sets the evaluation timeout at runtime
func SetTimeout(timeout time.Duration) {
	viper.Set("timeout", timeout)
	C.Timeout = timeout
}

func getDefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}
