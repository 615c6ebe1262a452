package util

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ztrue/tracerr"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Reporter receives faults the transport core cannot return to a caller,
// such as a read error on a connection's own goroutine. args are slog-style
// key/value pairs.
type Reporter interface {
	Report(err error, msg string, args ...any)
}

// ConsoleReporter logs faults through the pterm logger. With debug enabled
// it also prints the captured stack.
type ConsoleReporter struct{}

func (ConsoleReporter) Report(err error, msg string, args ...any) {
	LogError("%s%s: %v", msg, formatArgs(args), err)
	if DebugEnabled() {
		if frames := tracerr.StackTrace(err); len(frames) > 0 {
			LogDebug("%s", tracerr.Sprint(err))
		}
	}
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}

// FileReporter writes faults as JSON lines to a size-rotated log file.
type FileReporter struct {
	logger *slog.Logger
	writer *lumberjack.Logger
}

// NewFileReporter opens a rotating log at path. The file is created lazily on
// the first report.
func NewFileReporter(path string) *FileReporter {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return &FileReporter{
		logger: slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{})),
		writer: writer,
	}
}

func (r *FileReporter) Report(err error, msg string, args ...any) {
	attrs := append([]any{
		slog.String("error", err.Error()),
		slog.Any("stacktrace", tracerr.StackTrace(err)),
	}, args...)
	r.logger.Error(msg, attrs...)
}

func (r *FileReporter) Close() error {
	return r.writer.Close()
}

// Reporters fans a report out to several sinks.
type Reporters []Reporter

func (rs Reporters) Report(err error, msg string, args ...any) {
	for _, r := range rs {
		r.Report(err, msg, args...)
	}
}

// Close closes every sink that holds a resource.
func (rs Reporters) Close() error {
	var errs []error
	for _, r := range rs {
		if c, ok := r.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
