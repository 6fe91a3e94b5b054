package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	F "github.com/sagernet/sing/common/format"
	"github.com/sagernet/sing/common/logger"
)

type Level uint8

const (
	LevelPanic Level = iota
	LevelFatal
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelPanic:
		return "panic"
	case LevelFatal:
		return "fatal"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "panic":
		return LevelPanic, nil
	case "fatal":
		return LevelFatal, nil
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return LevelTrace, E.New("unknown log level: ", level)
	}
}

var _ logger.ContextLogger = (*Logger)(nil)

// Logger writes one line per entry: time, level, optional tag, message.
// Loggers derived with Tagged share the writer and its lock.
type Logger struct {
	access *sync.Mutex
	writer io.Writer
	level  Level
	tag    string
	now    func() time.Time
}

func New(writer io.Writer, level Level) *Logger {
	return &Logger{
		access: &sync.Mutex{},
		writer: writer,
		level:  level,
		now:    time.Now,
	}
}

// Tagged returns a logger sharing the writer whose lines carry tag.
func (l *Logger) Tagged(tag string) *Logger {
	return &Logger{
		access: l.access,
		writer: l.writer,
		level:  l.level,
		tag:    tag,
		now:    l.now,
	}
}

func (l *Logger) log(level Level, args []any) {
	if level > l.level {
		return
	}
	var builder strings.Builder
	builder.WriteString(l.now().Format("15:04:05.000"))
	builder.WriteString(" ")
	builder.WriteString(strings.ToUpper(level.String()))
	builder.WriteString(" ")
	if l.tag != "" {
		builder.WriteString("[")
		builder.WriteString(l.tag)
		builder.WriteString("] ")
	}
	builder.WriteString(F.ToString(args...))
	builder.WriteString("\n")
	l.access.Lock()
	io.WriteString(l.writer, builder.String())
	l.access.Unlock()
}

func (l *Logger) Trace(args ...any) {
	l.log(LevelTrace, args)
}

func (l *Logger) Debug(args ...any) {
	l.log(LevelDebug, args)
}

func (l *Logger) Info(args ...any) {
	l.log(LevelInfo, args)
}

func (l *Logger) Warn(args ...any) {
	l.log(LevelWarn, args)
}

func (l *Logger) Error(args ...any) {
	l.log(LevelError, args)
}

func (l *Logger) Fatal(args ...any) {
	l.log(LevelFatal, args)
	os.Exit(1)
}

func (l *Logger) Panic(args ...any) {
	l.log(LevelPanic, args)
	panic(F.ToString(args...))
}

func (l *Logger) TraceContext(ctx context.Context, args ...any) {
	l.Trace(args...)
}

func (l *Logger) DebugContext(ctx context.Context, args ...any) {
	l.Debug(args...)
}

func (l *Logger) InfoContext(ctx context.Context, args ...any) {
	l.Info(args...)
}

func (l *Logger) WarnContext(ctx context.Context, args ...any) {
	l.Warn(args...)
}

func (l *Logger) ErrorContext(ctx context.Context, args ...any) {
	l.Error(args...)
}

func (l *Logger) FatalContext(ctx context.Context, args ...any) {
	l.Fatal(args...)
}

func (l *Logger) PanicContext(ctx context.Context, args ...any) {
	l.Panic(args...)
}
