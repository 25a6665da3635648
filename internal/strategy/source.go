package strategy

import (
	"bytes"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Source keeps the latest successfully parsed Rules from a file.
type Source struct {
	path    string
	current atomic.Pointer[Rules]
	raw     atomic.Pointer[[]byte]
	logger  zerolog.Logger
}

// NewSource builds a Source for path. Nothing is read until Reload.
func NewSource(path string, logger zerolog.Logger) *Source {
	return &Source{path: path, logger: logger.With().Str("component", "strategy").Logger()}
}

// Static serves fixed rules, mostly for tests and one-off runs.
func Static(rules *Rules) *Source {
	s := &Source{logger: zerolog.Nop()}
	s.current.Store(rules)
	return s
}

// Reload re-reads the file. A failed read keeps the previous rules in place.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read strategy %s: %w", s.path, err)
	}
	if prev := s.raw.Load(); prev != nil && bytes.Equal(*prev, raw) {
		return nil
	}
	rules, err := Parse(raw)
	if err != nil {
		return err
	}
	s.current.Store(rules)
	s.raw.Store(&raw)
	s.logger.Info().Str("path", s.path).Msg("strategy loaded")
	return nil
}

// Current returns the active rules, if any were loaded.
func (s *Source) Current() (*Rules, bool) {
	r := s.current.Load()
	return r, r != nil
}
