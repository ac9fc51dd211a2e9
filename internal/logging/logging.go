// Package logging gives server and client components a small injectable
// logging seam instead of reaching for a package-global logger from library
// code (see Design Notes: "Global debug prints. Replace with a structured
// logging interface passed in at construction.").
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging interface consumed by internal packages.
// Implementations are expected to be safe for concurrent use.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
}

// Nop discards everything; used by tests and as the zero-value default.
type Nop struct{}

func (Nop) Debug(string, ...any)        {}
func (Nop) Info(string, ...any)         {}
func (Nop) Warn(string, ...any)         {}
func (Nop) Error(string, error, ...any) {}

// Zerolog wraps a zerolog.Logger, mirroring the field-chaining style used
// throughout the teacher's own handlers (log.Error().Err(err).Str(...).Msg(...)).
type Zerolog struct {
	log zerolog.Logger
}

// NewZerolog builds a logger writing to stderr: zerolog's ConsoleWriter
// (the teacher's dev-mode setup) when pretty is true, JSON lines otherwise.
func NewZerolog(pretty bool, component string) *Zerolog {
	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		l = zerolog.New(os.Stderr)
	}
	l = l.With().Timestamp().Str("component", component).Logger()
	return &Zerolog{log: l}
}

func (z *Zerolog) event(e *zerolog.Event, msg string, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (z *Zerolog) Debug(msg string, kv ...any) { z.event(z.log.Debug(), msg, kv...) }
func (z *Zerolog) Info(msg string, kv ...any)  { z.event(z.log.Info(), msg, kv...) }
func (z *Zerolog) Warn(msg string, kv ...any)  { z.event(z.log.Warn(), msg, kv...) }
func (z *Zerolog) Error(msg string, err error, kv ...any) {
	z.event(z.log.Error().Err(err), msg, kv...)
}
