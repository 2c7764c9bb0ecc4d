// Package flags tracks which storage backend serves each dataset scope.
//
// Flags live in a small YAML file inside the workspace. Resolution walks
// from the most specific level to the least: interval, then source, then
// market, then the file default. Scopes with no entry anywhere stay on the
// flat layout, which keeps a fresh workspace readable without any flag
// file at all.
package flags

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/feedvault/feedvault/internal/storage/atomicfile"
	"github.com/feedvault/feedvault/internal/storage/types"
)

// Kind identifies a storage backend layout.
type Kind string

const (
	// KindFlat is the legacy single-file-per-symbol layout.
	KindFlat Kind = "flat"

	// KindPartitioned is the hive-partitioned layout.
	KindPartitioned Kind = "partitioned"
)

const currentVersion = 1

// ParseKind parses a backend kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFlat, KindPartitioned:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown backend kind %q", s)
	}
}

type document struct {
	Version int                    `yaml:"version"`
	Default string                 `yaml:"default,omitempty"`
	Markets map[string]*marketNode `yaml:"markets,omitempty"`
}

type marketNode struct {
	Backend string                 `yaml:"backend,omitempty"`
	Sources map[string]*sourceNode `yaml:"sources,omitempty"`
}

type sourceNode struct {
	Backend   string            `yaml:"backend,omitempty"`
	Intervals map[string]string `yaml:"intervals,omitempty"`
}

// Store is the backend flag file. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  document
}

// Open loads the flag file at path. A missing file yields an empty store
// whose every lookup resolves to the flat layout.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc:  document{Version: currentVersion},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read flag file: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse flag file: %w", err)
	}
	if err := s.doc.validate(); err != nil {
		return nil, fmt.Errorf("flag file %s: %w", path, err)
	}

	return s, nil
}

func (d *document) validate() error {
	check := func(v string) error {
		if v == "" {
			return nil
		}
		_, err := ParseKind(v)
		return err
	}

	if err := check(d.Default); err != nil {
		return err
	}
	for market, m := range d.Markets {
		if m == nil {
			continue
		}
		if err := check(m.Backend); err != nil {
			return fmt.Errorf("market %s: %w", market, err)
		}
		for source, src := range m.Sources {
			if src == nil {
				continue
			}
			if err := check(src.Backend); err != nil {
				return fmt.Errorf("source %s/%s: %w", market, source, err)
			}
			for interval, v := range src.Intervals {
				if _, err := types.ParseInterval(interval); err != nil {
					return fmt.Errorf("source %s/%s: %w", market, source, err)
				}
				if err := check(v); err != nil {
					return fmt.Errorf("interval %s/%s/%s: %w", market, source, interval, err)
				}
			}
		}
	}
	return nil
}

// Path returns the flag file path.
func (s *Store) Path() string {
	return s.path
}

// Lookup resolves the backend kind for a scope. The most specific level
// set wins; nothing set means flat.
func (s *Store) Lookup(market, source string, interval types.Interval) Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kind := KindFlat
	if s.doc.Default != "" {
		kind = Kind(s.doc.Default)
	}

	m := s.doc.Markets[market]
	if m == nil {
		return kind
	}
	if m.Backend != "" {
		kind = Kind(m.Backend)
	}

	src := m.Sources[source]
	if src == nil {
		return kind
	}
	if src.Backend != "" {
		kind = Kind(src.Backend)
	}

	if v := src.Intervals[string(interval)]; v != "" {
		kind = Kind(v)
	}
	return kind
}

// Set records the backend kind at the given level and persists the file.
// An empty interval sets the source level; an empty source sets the
// market level.
func (s *Store) Set(market, source, interval string, kind Kind) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if market == "" {
		return fmt.Errorf("market is required")
	}
	if interval != "" {
		if source == "" {
			return fmt.Errorf("interval-level flag requires a source")
		}
		if _, err := types.ParseInterval(interval); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.Markets == nil {
		s.doc.Markets = make(map[string]*marketNode)
	}
	m := s.doc.Markets[market]
	if m == nil {
		m = &marketNode{}
		s.doc.Markets[market] = m
	}

	switch {
	case source == "":
		m.Backend = string(kind)
	default:
		if m.Sources == nil {
			m.Sources = make(map[string]*sourceNode)
		}
		src := m.Sources[source]
		if src == nil {
			src = &sourceNode{}
			m.Sources[source] = src
		}
		if interval == "" {
			src.Backend = string(kind)
		} else {
			if src.Intervals == nil {
				src.Intervals = make(map[string]string)
			}
			src.Intervals[interval] = string(kind)
		}
	}

	return s.saveLocked()
}

// SetDefault records the file-wide default backend kind and persists.
func (s *Store) SetDefault(kind Kind) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Default = string(kind)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	s.doc.Version = currentVersion

	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("marshal flag file: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write flag file: %w", err)
	}
	return nil
}
