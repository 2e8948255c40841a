// Package logging wires the catalog's structured JSON logging: log/slog
// with a size-rotating file under ~/.cbird/logs and an optional stderr
// mirror, driven by the same config.LogConfig block the rest of the
// module loads from .cbird.yaml.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nightshadow92/cbird/internal/config"
)

// Setup builds the catalog's logger from cfg and returns it with a
// cleanup function that flushes and closes the log file. An empty
// FilePath falls back to DefaultLogPath; zero rotation limits fall back
// to the config package's defaults.
func Setup(cfg config.LogConfig) (*slog.Logger, func(), error) {
	path := cfg.FilePath
	if path == "" {
		path = DefaultLogPath()
	}
	maxSizeMB := cfg.MaxSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}

	file, err := openRotatingFile(path, maxSizeMB, maxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = file
	if cfg.WriteToStderr {
		out = io.MultiWriter(file, os.Stderr)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: Level(cfg.Level)})
	cleanup := func() { _ = file.Close() }
	return slog.New(handler), cleanup, nil
}

// Level maps a config level string to its slog level. Unknown strings
// default to info, matching config.Validate's accepted set.
func Level(s string) slog.Level {
	switch strings.ToLower(s) {
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
