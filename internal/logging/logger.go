package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const maskedPrefixLen = 6

// New creates a JSON slog logger configured at the provided level. If the
// level string is invalid it defaults to info.
func New(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// Mask keeps a short prefix of a sensitive value and hides the rest. It is the
// only form in which signer secrets may reach logs or users.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= maskedPrefixLen {
		return strings.Repeat("*", len(secret))
	}
	return secret[:maskedPrefixLen] + "..."
}

// Secret returns a slog attribute carrying only the masked form of value.
func Secret(key, value string) slog.Attr {
	return slog.String(key, Mask(value))
}
