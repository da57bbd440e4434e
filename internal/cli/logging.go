package cli

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roach88/agentbus/internal/config"
)

// setupLogging configures the global logger. Logs always go to w (stderr)
// so they never mix with command output.
func setupLogging(w io.Writer, c config.LoggingConfiguration) {
	writer := w
	if c.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger()
	if c.Verbose {
		log.Logger = logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = logger.Level(zerolog.WarnLevel)
	}
}
