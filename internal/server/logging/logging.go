// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON slog logger writing to w and, when logFile is set,
// to a size-rotated file as well.
func New(w io.Writer, logFile string, level slog.Level) *slog.Logger {
	if logFile != "" {
		w = io.MultiWriter(w, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup installs the logger as the slog default and returns it.
func Setup(logFile string) *slog.Logger {
	logger := New(os.Stdout, logFile, slog.LevelInfo)
	slog.SetDefault(logger)
	return logger
}
