// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger. Level is one of trace, debug, info,
// warn, error; format is "console" for human-readable output or "json" for
// structured lines on stderr.
func Setup(level string, format string) error {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return errors.Wrapf(err, "logging: invalid level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console", "text":
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return errors.Errorf("logging: unknown format %q", format)
	}

	return nil
}
