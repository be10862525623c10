package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu         sync.RWMutex
	logger     zerolog.Logger
	loggerOnce sync.Once
)

// initLogger installs a console logger on stderr if Setup was never called.
func initLogger() {
	loggerOnce.Do(func() {
		mu.Lock()
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano}).
			With().Timestamp().Logger().Level(zerolog.InfoLevel)
		mu.Unlock()
	})
}

// Setup configures the process logger for the given environment.
//
//   - "development": human-readable console output, DEBUG enabled
//   - "test":        discards everything
//   - anything else: JSON lines on stderr, INFO and above
func Setup(environment string) {
	SetupWithWriter(environment, nil)
}

// SetupWithWriter is Setup with an explicit output, used by tests and by
// callers that want to tee logs somewhere else.
func SetupWithWriter(environment string, w io.Writer) {
	loggerOnce.Do(func() {})

	level := zerolog.InfoLevel
	var out io.Writer = os.Stderr
	switch environment {
	case "development":
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano}
	case "test":
		out = io.Discard
	}
	if w != nil {
		out = w
	}

	mu.Lock()
	logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
	mu.Unlock()
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	switch l {
	case LevelDebug:
		logger = logger.Level(zerolog.DebugLevel)
	case LevelError:
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	emit(current().Debug(), msg, kv...)
}

func Info(msg string, kv ...any) {
	emit(current().Info(), msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	emit(current().Error().Err(err), msg, kv...)
}

// Logger is a component-scoped view of the process logger. Fields given to
// With are attached to every line it writes.
type Logger struct {
	fields []any
}

// With returns a Logger that prefixes kv to every call.
func With(kv ...any) Logger {
	return Logger{fields: kv}
}

func (l Logger) Debug(msg string, kv ...any) {
	Debug(msg, append(l.fields[:len(l.fields):len(l.fields)], kv...)...)
}

func (l Logger) Info(msg string, kv ...any) {
	Info(msg, append(l.fields[:len(l.fields):len(l.fields)], kv...)...)
}

func (l Logger) Error(msg string, err error, kv ...any) {
	Error(msg, err, append(l.fields[:len(l.fields):len(l.fields)], kv...)...)
}

func current() *zerolog.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// emit attaches kv pairs to ev and writes it. Non-string keys are skipped;
// a trailing odd value is ignored.
func emit(ev *zerolog.Event, msg string, kv ...any) {
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Time:
			ev = ev.Time(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		case error:
			ev = ev.AnErr(key, v)
		case fmt.Stringer:
			ev = ev.Stringer(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
