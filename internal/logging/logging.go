// Package logging builds the process logger: a console writer on stderr plus
// an optional rotating log file.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	sferrors "github.com/ldi/stageflow/internal/errors"
)

// Options control logger construction.
type Options struct {
	Level      string
	File       string // empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var globalMu sync.Mutex //nolint:gochecknoglobals // protects log.Logger

// ParseLevel accepts zerolog level names in any case. An empty string means
// info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, sferrors.Newf(sferrors.ErrConfigInvalid, "log level %q", s)
	}
	return l, nil
}

// New creates the logger and installs it as the zerolog global. The returned
// closer releases the log file and must be called on shutdown.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	console := selectOutput()
	if opts.File == "" {
		logger := build(console, level)
		setGlobal(logger)
		return logger, nopCloser{}, nil
	}

	file, err := fileWriter(opts)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	logger := build(zerolog.MultiLevelWriter(console, file), level)
	setGlobal(logger)
	return logger, file, nil
}

// NewWithWriter creates a logger on w. Intended for tests.
func NewWithWriter(w io.Writer, level string) (zerolog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return build(w, l), nil
}

func build(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func setGlobal(l zerolog.Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	log.Logger = l
}

// selectOutput uses a console writer on a TTY unless NO_COLOR is set.
// Stdout is never used: the MCP transport owns it.
func selectOutput() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}
	return os.Stderr
}

func fileWriter(opts Options) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
		return nil, sferrors.Wrap(err, "create log directory")
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
