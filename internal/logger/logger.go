// Package logger exposes the process-wide structured logger. Output and level
// are mutable at runtime so main can redirect to the log file after config
// load and honor app.log_level.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu    sync.RWMutex
	level slog.LevelVar
	base  = build(os.Stdout)
)

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput replaces the log destination, typically with an
// io.MultiWriter(stdout, file) once the log file is open.
func SetOutput(w io.Writer) {
	mu.Lock()
	base = build(w)
	mu.Unlock()
}

// SetLevel applies a config-supplied level name. Unknown names fall back to
// info rather than failing startup.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Debugf(format string, v ...any) {
	current().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	current().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	current().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	current().Error(fmt.Sprintf(format, v...))
}
