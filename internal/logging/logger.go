package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"erpsync/internal/config"
	"github.com/rs/zerolog"
)

// New builds the process-wide zerolog logger from config. With empty fields
// it logs JSON at info level to stdout. The returned closer is non-nil only
// for file output.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	writer, closer, err := buildWriter(cfg)
	if err != nil {
		return nil, nil, err
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	ctx := zerolog.New(writer).Level(parseLevel(cfg.Level)).With().Timestamp()
	if app.Name != "" {
		ctx = ctx.Str("app", app.Name)
	}
	if app.Environment != "" {
		ctx = ctx.Str("env", app.Environment)
	}
	if app.Version != "" {
		ctx = ctx.Str("version", app.Version)
	}

	logger := ctx.Logger()
	return &logger, closer, nil
}

// ForModule derives a sub-logger tagged with the sync module, so every line a
// worker emits can be filtered per entity kind.
func ForModule(logger *zerolog.Logger, module string) zerolog.Logger {
	return logger.With().Str("module", module).Logger()
}

func parseLevel(raw string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

func buildWriter(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	var out io.Writer
	var closer io.Closer

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
		closer = file
	default:
		return nil, nil, fmt.Errorf("unknown logging.output: %s", cfg.Output)
	}

	if strings.ToLower(strings.TrimSpace(cfg.Format)) == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out, closer, nil
}
