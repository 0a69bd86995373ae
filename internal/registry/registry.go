// Package registry keeps the records of loaded plugins, keyed by canonical
// load path and unique by case-insensitive plugin name.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"pluginhost/internal/loader"
	"pluginhost/internal/logging"
	"pluginhost/pkg/plugin"
)

// Record ties a plugin instance to the context it was loaded in.
// Records are never modified after Add.
type Record struct {
	ID       uuid.UUID
	Path     string
	Name     string
	Plugin   plugin.Plugin
	Context  *loader.Context
	LoadedAt time.Time
}

// NewRecord fills in the ID and load time.
func NewRecord(path, name string, p plugin.Plugin, ctx *loader.Context) *Record {
	return &Record{
		ID:       uuid.New(),
		Path:     path,
		Name:     name,
		Plugin:   p,
		Context:  ctx,
		LoadedAt: time.Now(),
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byPath map[string]*Record
	// byName maps the folded name to the record's path.
	byName map[string]string
	// order holds paths in load order.
	order []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byPath: make(map[string]*Record),
		byName: make(map[string]string),
	}
}

// fold returns the caseless form of a plugin name. Casers keep state, so
// each call gets its own.
func fold(name string) string {
	return cases.Fold().String(name)
}

// Add inserts a record. Path uniqueness is checked before name uniqueness.
func (r *Registry) Add(rec *Record) error {
	if rec == nil || rec.Path == "" || rec.Name == "" || rec.Plugin == nil {
		return ErrInvalidRecord
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[rec.Path]; exists {
		return fmt.Errorf("%w: %s", ErrPathTaken, rec.Path)
	}
	key := fold(rec.Name)
	if other, exists := r.byName[key]; exists {
		return fmt.Errorf("%w: %s (loaded from %s)", ErrNameTaken, rec.Name, other)
	}

	r.byPath[rec.Path] = rec
	r.byName[key] = rec.Path
	r.order = append(r.order, rec.Path)

	logging.RegistryDebug("Added record %s: %s (path=%s)", rec.ID, rec.Name, rec.Path)
	return nil
}

// HasPath reports whether a record exists for path.
func (r *Registry) HasPath(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPath[path]
	return ok
}

// HasName reports whether a record uses name, ignoring case.
func (r *Registry) HasName(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[fold(name)]
	return ok
}

// ByPath returns the record for path, or nil.
func (r *Registry) ByPath(path string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPath[path]
}

// ByName returns the record whose plugin is called name, ignoring case, or nil.
func (r *Registry) ByName(name string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.byName[fold(name)]
	if !ok {
		return nil
	}
	return r.byPath[path]
}

// Remove deletes the record for path and returns it, or nil if absent.
func (r *Registry) Remove(path string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byPath[path]
	if !ok {
		return nil
	}
	delete(r.byPath, path)
	delete(r.byName, fold(rec.Name))
	for i, p := range r.order {
		if p == path {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	logging.RegistryDebug("Removed record %s: %s", rec.ID, rec.Name)
	return rec
}

// Names returns the plugin names in load order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, p := range r.order {
		names = append(names, r.byPath[p].Name)
	}
	return names
}

// Records returns a snapshot of all records in load order.
func (r *Registry) Records() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

// Drain removes every record and returns them in load order.
func (r *Registry) Drain() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.snapshot()
	r.byPath = make(map[string]*Record)
	r.byName = make(map[string]string)
	r.order = nil

	logging.RegistryDebug("Drained %d records", len(records))
	return records
}

func (r *Registry) snapshot() []*Record {
	records := make([]*Record, 0, len(r.order))
	for _, p := range r.order {
		records = append(records, r.byPath[p])
	}
	return records
}

// Count returns the number of records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPath)
}
