package logger

import (
	"io"
	"log"
	"log/slog"
	"strings"
)

// New returns a text logger writing to w. An empty or unknown level falls
// back to INFO.
func New(w io.Writer, level string) *slog.Logger {
	lv := slog.LevelInfo

	if level != "" {
		err := lv.UnmarshalText([]byte(strings.TrimSpace(level)))
		if err != nil {
			lv = slog.LevelInfo
		}
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lv,
	}))
}

// StdLogger adapts l for libraries that want a *log.Logger, such as the
// slack-go debug output. Everything is logged at DEBUG under component.
func StdLogger(l *slog.Logger, component string) *log.Logger {
	return slog.NewLogLogger(l.With(slog.String("component", component)).Handler(), slog.LevelDebug)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
