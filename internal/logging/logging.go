// Package logging builds the engine's slog setup. Logs go to a file under
// the data directory, never to stdout or stderr, which belong to the RPC
// transport.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"webweaver/engine/internal/appdirs"
)

const logFileName = "webweaver-engine.log"

// Setup is the configured logger plus what main needs to report about it.
type Setup struct {
	Logger  *slog.Logger
	Close   func() error
	Path    string
	Enabled bool
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func disabled() Setup {
	return Setup{Logger: Nop(), Close: func() error { return nil }}
}

// NewFileLogger opens an append-only JSON log under dataDir/logs when debug
// is set. With debug off it returns an inert setup, so call sites never need
// a nil check.
func NewFileLogger(dataDir string, debug bool) (Setup, error) {
	if !debug {
		return disabled(), nil
	}
	dir := appdirs.LogDir(dataDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return disabled(), err
	}
	path := filepath.Join(dir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return disabled(), err
	}
	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}))
	return Setup{Logger: logger, Close: file.Close, Path: path, Enabled: true}, nil
}
