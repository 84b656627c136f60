package ebtree

import (
	"os"

	"github.com/rs/zerolog"
)

// resolveLogger returns l, or a no-op logger if l is nil (§4.13).
func resolveLogger(l *zerolog.Logger) zerolog.Logger {
	if l != nil {
		return *l
	}
	return zerolog.Nop()
}

// defaultLogger builds a console logger on stderr with timestamps. It is
// unexported, so only code inside this package can call it.
func defaultLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
