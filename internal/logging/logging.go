// Package logging configures zerolog for the scanner and carries the shared log fields.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects the log sinks and the rotation of the log file.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig logs info and above to stderr and to a rotated file under the config directory.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "pattern-scanner", "logs", "scanner.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger builds a logger from DefaultLogConfig.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig builds a logger writing to every sink enabled in cfg and sets
// the global level. A log file whose directory cannot be created is skipped.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stderr))
	}
	if cfg.File && os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755) == nil {
		sinks = append(sinks, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		})
	}

	var w io.Writer = os.Stderr
	switch len(sinks) {
	case 0:
	case 1:
		w = sinks[0]
	default:
		w = zerolog.MultiLevelWriter(sinks...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// ParseLevel maps a configured level name to a zerolog level, falling back to info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// SetDebugLevel lowers the global level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

var levelLabels = map[string]struct {
	label string
	color *color.Color
}{
	zerolog.LevelDebugValue: {"DBG", color.New(color.FgCyan)},
	zerolog.LevelInfoValue:  {"INF", color.New(color.FgGreen)},
	zerolog.LevelWarnValue:  {"WRN", color.New(color.FgYellow)},
	zerolog.LevelErrorValue: {"ERR", color.New(color.FgRed)},
	zerolog.LevelFatalValue: {"FTL", color.New(color.FgRed, color.Bold)},
}

func consoleWriter(f *os.File) zerolog.ConsoleWriter {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return zerolog.ConsoleWriter{
		Out:        f,
		NoColor:    !tty,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			name, _ := i.(string)
			l, ok := levelLabels[name]
			if !ok {
				return strings.ToUpper(name)
			}
			if !tty {
				return l.label
			}
			c := *l.color
			c.EnableColor()
			return c.Sprint(l.label)
		},
	}
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or a disabled logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
