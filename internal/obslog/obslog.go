// Package obslog wires zerolog the way the rest of the pack's services
// do: constructors for a zerolog.Logger with console output on a real
// terminal and plain JSON otherwise.
package obslog

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// New builds a zerolog.Logger at level (parsed with zerolog.ParseLevel;
// an invalid level falls back to InfoLevel). When color is true and w is
// a real terminal, output is a colorized zerolog.ConsoleWriter; otherwise
// it's newline-delimited JSON, matching how the pack's services degrade
// gracefully under a log aggregator.
func New(w io.Writer, level string, color bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	out := w
	if color {
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			out = zerolog.ConsoleWriter{Out: colorable.NewColorable(f)}
		}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Default builds a Logger writing to stderr, the pack's convention for
// command-line tools so stdout stays free for program output.
func Default(level string, color bool) zerolog.Logger {
	return New(os.Stderr, level, color)
}

// Nop returns a Logger that discards everything; wsclient.Client starts
// with one until SetLogger is called.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
