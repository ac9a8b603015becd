// Package store persists deployment state in two views: a flat KEY=VALUE
// file consumed by shells and downstream scripts, and a structured JSON
// document grouping addresses by section and holding completion markers.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

// Store is the in-memory snapshot of both files. It is owned by a single
// orchestrator run and is not safe for concurrent use.
type Store struct {
	flatPath string
	docPath  string
	flat     *flatFile
	doc      *document
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Load reads both views. Missing files are treated as empty. Parse errors and
// disagreement between the views fail with ErrConfigCorrupt.
func Load(flatPath, docPath string, opts ...Option) (*Store, error) {
	s := &Store{flatPath: flatPath, docPath: docPath, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	flatData, err := readOptional(flatPath)
	if err != nil {
		return nil, err
	}
	docData, err := readOptional(docPath)
	if err != nil {
		return nil, err
	}

	if s.flat, err = parseFlat(string(flatData)); err != nil {
		return nil, fmt.Errorf("%s: %w", flatPath, err)
	}
	if s.doc, err = parseDocument(docData); err != nil {
		return nil, fmt.Errorf("%s: %w", docPath, err)
	}

	if err := s.reconcile(); err != nil {
		return nil, err
	}
	return s, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// reconcile checks that both views agree on every recognized key they both
// mention. A flat file exactly one revision behind the structured file is
// the trace of a save interrupted between the two writes; the structured
// view wins and the flat view is re-issued on the next save.
func (s *Store) reconcile() error {
	behind := s.doc.state.Revision > 0 && s.flat.revision+1 == s.doc.state.Revision

	for _, r := range recognized {
		docVal, inDoc := s.doc.field(r.Section, r.Field)
		flatVal, inFlat := s.flat.get(r.FlatKey)

		switch {
		case inDoc && behind:
			if !inFlat || !sameValue(flatVal, docVal) {
				s.logger.Warn("re-issuing flat value from structured view",
					slog.String("key", r.FlatKey),
					slog.String("value", docVal),
				)
				if err := s.flat.set(r.FlatKey, docVal); err != nil {
					return err
				}
			}
		case inDoc && inFlat:
			if !sameValue(flatVal, docVal) {
				return fmt.Errorf("%w: %s=%s but %s.%s=%s",
					deployerr.ErrConfigCorrupt, r.FlatKey, flatVal, r.Section, r.Field, docVal)
			}
		}
	}

	if behind {
		s.flat.stamp(s.doc.state.Revision)
	}
	return nil
}

// sameValue compares addresses on their bytes and other values case-insensitively.
func sameValue(a, b string) bool {
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return strings.EqualFold(a, b)
}

// Get returns a value from the flat view.
func (s *Store) Get(flatKey string) (string, bool) {
	return s.flat.get(flatKey)
}

// Address returns a flat value parsed as an address.
func (s *Store) Address(flatKey string) (common.Address, bool) {
	v, ok := s.flat.get(flatKey)
	if !ok || !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// SetKey upserts a flat key in place. Comments, blank lines and the order of
// other keys are preserved.
func (s *Store) SetKey(name, value string) error {
	return s.flat.set(name, value)
}

// Set writes a value to the flat view and, for recognized keys, to the
// matching structured field, keeping both views in agreement.
func (s *Store) Set(flatKey, value string) error {
	if err := s.flat.set(flatKey, value); err != nil {
		return err
	}
	if r, ok := Lookup(flatKey); ok {
		return s.doc.setField(r.Section, r.Field, value)
	}
	return nil
}

// Field returns a structured field in text form.
func (s *Store) Field(section, name string) (string, bool) {
	return s.doc.field(section, name)
}

// SetField writes a free-form structured field. Recognized fields must go
// through Set so that the flat view follows.
func (s *Store) SetField(section, name string, v any) error {
	for _, r := range recognized {
		if r.Section == section && r.Field == name {
			return fmt.Errorf("%s.%s is bound to %s; use Set", section, name, r.FlatKey)
		}
	}
	return s.doc.setField(section, name, v)
}

// Sections returns the structured section names, sorted.
func (s *Store) Sections() []string {
	return s.doc.sectionNames()
}

// Keys returns the flat keys in file order.
func (s *Store) Keys() []string {
	return s.flat.keys()
}

// Marker returns the completion marker for an idempotency key.
func (s *Store) Marker(key string) (*Marker, bool) {
	m, ok := s.doc.state.Markers[key]
	return m, ok
}

// MarkStepComplete records a marker in the reserved section.
func (s *Store) MarkStepComplete(key string, m Marker) {
	if m.CompletedAt.IsZero() {
		m.CompletedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = StatusComplete
	}
	s.doc.state.Markers[key] = &m
}

// Revision is the number of successful saves recorded in the structured file.
func (s *Store) Revision() uint64 {
	return s.doc.state.Revision
}

// Save writes the structured file and then the flat file, each atomically.
func (s *Store) Save() error {
	rev := s.doc.state.Revision + 1
	s.doc.state.Revision = rev

	docData, err := s.doc.render()
	if err != nil {
		s.doc.state.Revision--
		return fmt.Errorf("encode structured file: %w", err)
	}
	if err := writeAtomic(s.docPath, append(docData, '\n')); err != nil {
		s.doc.state.Revision--
		return err
	}

	s.flat.stamp(rev)
	if err := writeAtomic(s.flatPath, s.flat.render()); err != nil {
		return err
	}
	return nil
}
