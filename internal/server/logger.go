// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// redactedKeys are attribute keys whose values never reach the log.
var redactedKeys = map[string]bool{
	"password":     true,
	"new_password": true,
	"access_token": true,
}

// setupLogger configures the global slog logger.
func setupLogger(level, format string) {
	slog.SetDefault(newLogger(os.Stdout, level, format))
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel, ReplaceAttr: redact})
	} else {
		handler = tint.NewHandler(w, &tint.Options{Level: logLevel, ReplaceAttr: redact, NoColor: noColor})
	}

	return slog.New(handler)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[a.Key] {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}
