package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging facade used across the module. Key-value pairs
// alternate key, value.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
}

// Options selects level and output writers.
type Options struct {
	Level      string
	Writers    []string // "console", "file"
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type zlog struct {
	l zerolog.Logger
}

// New builds a zerolog-backed Logger from opts. Unknown levels fall back to
// info; an empty writer list logs to stderr.
func New(opts Options) Logger {
	var ws []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			ws = append(ws, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		case "file":
			if opts.File != "" {
				maxSize := opts.MaxSizeMB
				if maxSize <= 0 {
					maxSize = 50
				}
				ws = append(ws, &lumberjack.Logger{
					Filename:   opts.File,
					MaxSize:    maxSize,
					MaxBackups: opts.MaxBackups,
				})
			}
		}
	}
	if len(ws) == 0 {
		ws = append(ws, os.Stderr)
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(zerolog.MultiLevelWriter(ws...)).Level(lvl).With().Timestamp().Logger()
	return &zlog{l: l}
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &zlog{l: zerolog.Nop()}
}

func newWithWriter(w io.Writer, level zerolog.Level) Logger {
	return &zlog{l: zerolog.New(w).Level(level)}
}

func (z *zlog) Debug(msg string, kv ...any) { z.l.Debug().Fields(kv).Msg(msg) }
func (z *zlog) Info(msg string, kv ...any)  { z.l.Info().Fields(kv).Msg(msg) }
func (z *zlog) Warn(msg string, kv ...any)  { z.l.Warn().Fields(kv).Msg(msg) }
func (z *zlog) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }

func (z *zlog) Err(err error, msg string, kv ...any) {
	z.l.Error().Err(err).Fields(kv).Msg(msg)
}
