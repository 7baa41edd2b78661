package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogConfig struct {
	Level  string
	Format string
}

// SetupLogger installs the default slog logger. Format is text or json.
func SetupLogger(c LogConfig) (*slog.Logger, error) {
	return setupLogger(os.Stdout, c)
}

func setupLogger(w io.Writer, c LogConfig) (*slog.Logger, error) {
	lv := strings.TrimSpace(c.Level)
	if lv == "" {
		lv = "info"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(lv)); err != nil {
		return nil, fmt.Errorf("telemetry: log level %q: %w", c.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("telemetry: unknown log format %q", c.Format)
	}

	l := slog.New(h).With("service", "songquiz")
	slog.SetDefault(l)
	return l, nil
}
