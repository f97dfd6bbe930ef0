// Package secrets implements a fixed-capacity JSON-backed key/value store
// for the application's startup credentials.
package secrets

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MaxEntries mirrors SECRET_COUNT_MAX from the original source.
const MaxEntries = 16

// Table is a small, mutex-protected string-to-string lookup table.
type Table struct {
	mu      sync.RWMutex
	entries map[string]string
}

// Parse decodes a JSON object of string keys to string values into a Table.
// Unlike secret_table_parse's fixed array, this holds a map, but enforces
// the same MaxEntries cap as the original.
func Parse(raw string) (*Table, error) {
	if raw == "" {
		raw = "{}"
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("secrets: parse: %w", err)
	}
	if len(m) > MaxEntries {
		return nil, fmt.Errorf("secrets: too many entries (%d > %d)", len(m), MaxEntries)
	}
	return &Table{entries: m}, nil
}

// Get returns the value for key, or an explicit error if it is absent.
func (t *Table) Get(key string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[key]
	if !ok {
		return "", fmt.Errorf("secrets: key %q not found", key)
	}
	return v, nil
}

// MustGet behaves like Get but is meant for startup-time required secrets
// whose absence is an initialization failure.
func (t *Table) MustGet(key string) (string, error) {
	return t.Get(key)
}
