package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrInvalidLogLevel = errors.New("invalid log level")

func parseLevel(level string) (zerolog.Level, error) {
	switch level {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("%w: %s", ErrInvalidLogLevel, level)
	}
}

// Init points the global logger at stdout, human readable on a terminal
// and JSON otherwise.
func Init(level string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if isatty.IsTerminal(os.Stdout.Fd()) {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}
