package obs

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerOnce sync.Once
	logger     zerolog.Logger
)

// Logger returns the shared structured logger used across the service.
// Output is one JSON object per line on stdout.
func Logger() *zerolog.Logger {
	loggerOnce.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	return &logger
}

// SetLoggerForTests swaps the shared logger. Tests use it to capture output.
func SetLoggerForTests(l zerolog.Logger) func() {
	Logger()
	prev := logger
	logger = l
	return func() { logger = prev }
}
