// Package logging builds the zerolog logger shared by the server and CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// New returns a JSON logger at the given level. Logs go to file when set,
// otherwise to stderr so they never mix with command output on stdout.
// The returned func closes the log file.
func New(level, file string) (zerolog.Logger, func(), error) {
	closer := func() {}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, closer, err
	}

	var w io.Writer = os.Stderr
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return zerolog.Logger{}, closer, fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, closer, err
		}
		closer = func() { _ = f.Close() }
		w = f
	}

	return FromWriter(w, lvl), closer, nil
}

// FromWriter returns a timestamped logger writing to w.
func FromWriter(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		With().
		Timestamp().
		Logger().
		Level(lvl)
}
