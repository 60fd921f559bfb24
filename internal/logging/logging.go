// Package logging builds the zerolog loggers shared by the service.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/wellsession/config"
)

const permission = 0664

// Build collects logger options before Make is called.
type Build struct {
	writer io.Writer
	path   string
	level  string
	pretty bool
}

func New() *Build {
	return &Build{}
}

// FromConfig copies the log settings of the general config section.
func (b *Build) FromConfig(cfg config.GeneralConfig) *Build {
	b.path = cfg.LogFile
	b.level = cfg.LogLevel
	b.pretty = cfg.LogPretty
	return b
}

func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

func (b *Build) Level(level string) *Build {
	b.level = level
	return b
}

// Make returns the root logger. The returned closer releases the log file,
// if one was opened, and is never nil.
func (b *Build) Make() (zerolog.Logger, io.Closer, error) {
	var w io.Writer = os.Stdout
	if b.writer != nil {
		w = b.writer
	}
	var closer io.Closer = nopCloser{}
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		w = zerolog.SyncWriter(f)
		closer = f
	} else if b.pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	logger := zerolog.New(w).With().Timestamp().Logger().Level(ParseLevel(b.level))
	return logger, closer, nil
}

// ParseLevel maps a config level name to a zerolog level; unknown values fall back to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component derives a sub-logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
