// Package logging builds the JSON slog logger used by both binaries.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New returns a JSON logger writing to w. String attributes whose key
// mentions a phone number are masked.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: maskPhones,
	}))
}

func maskPhones(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	if strings.Contains(strings.ToLower(a.Key), "phone") {
		return slog.String(a.Key, models.MaskPhone(a.Value.String()))
	}
	return a
}
