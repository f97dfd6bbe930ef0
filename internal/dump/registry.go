package dump

import (
	"fmt"
	"os"
	"sync"
)

// RegistryCapacity bounds the number of simultaneously in-flight dump writes
// the registry can track, mirroring DUMP_RECORD_CAP in the original source.
const RegistryCapacity = 16

type registryEntry struct {
	f    *os.File
	path string
}

// Registry tracks every dump currently being written so that a fatal exit
// path can "burn" them: close and unlink every still-open file, guaranteeing
// that only fully-finalized dumps ever survive.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
}

// NewRegistry creates an empty, process-wide dump registry.
func NewRegistry() *Registry {
	return &Registry{entries: make([]registryEntry, 0, RegistryCapacity)}
}

func (r *Registry) push(f *os.File, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= RegistryCapacity {
		return fmt.Errorf("dump: registry full (cap=%d)", RegistryCapacity)
	}
	r.entries = append(r.entries, registryEntry{f: f, path: path})
	return nil
}

func (r *Registry) pop(f *os.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.f == f {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len reports the number of in-flight (unfinalized) dumps currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Burn closes and unlinks every still-registered dump file, so no
// partially-written dump is ever mistaken for a published one. cmd/hoarder
// calls it once every worker has returned, on shutdown or after a
// structural worker failure. A panic is not recovered anywhere, so a
// panicking process exits without calling Burn.
func (r *Registry) Burn() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, e := range entries {
		e.f.Close()
		os.Remove(e.path)
	}
}
