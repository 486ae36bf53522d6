// Package buildlog centralizes the btclog backend every other package's
// log.go pulls its subsystem logger from, mirroring the way lnd's own
// "build" package hands out per-subsystem loggers from one shared backend.
package buildlog

import (
	"io"
	"os"
	"sync"

	"github.com/btcsuite/btclog"
)

// switchWriter forwards writes to a destination SetBackend can replace.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

var out = &switchWriter{w: os.Stdout}

// backend is the single log backend for the whole process. cmd/lnhostd
// points it at a rotating file plus stdout; tests leave it at the default
// (stdout only).
var backend = btclog.NewBackend(out)

// NewSubLogger returns a logger tagged with the given four-letter
// subsystem code (the same convention as lnd's LTND/SRVR/PEER tags) at
// InfoLvl by default.
func NewSubLogger(tag string) btclog.Logger {
	logger := backend.Logger(tag)
	logger.SetLevel(btclog.LevelInfo)
	return logger
}

// SetBackend repoints every subsystem logger created via NewSubLogger (and
// any created afterwards) at a new backend. Used by cmd/lnhostd once the
// rotating log file is open, writing to both the file and stdout.
func SetBackend(w ...io.Writer) {
	out.mu.Lock()
	out.w = io.MultiWriter(w...)
	out.mu.Unlock()
}

// SetLevel sets the level of the one logger passed in, a logger obtained
// from NewSubLogger.
func SetLevel(logger btclog.Logger, level btclog.Level) {
	logger.SetLevel(level)
}
