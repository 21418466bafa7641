// Package merge implements the three-way merge engine (C3): field-level
// merge policies, resolver strategies, and conflict classification. The
// engine is pure — no I/O — so it is trivially deterministic across
// processes per spec §4.2's determinism invariant.
package merge

import (
	"fmt"
	"sync"

	"github.com/driftsync/syncd/internal/sync/model"
)

// FieldSpec describes how one payload field merges under concurrent writes.
type FieldSpec struct {
	Name     string
	Type     model.FieldType
	Resolver model.ResolverStrategy // only consulted when Type == FieldOpaque
}

// Schema is the ordered field-merge policy for one record type. Order
// matters: spec §4.2 requires fields to be processed "deterministically per
// field in payload-schema order."
type Schema []FieldSpec

// FieldSpec looks up a field's spec by name, defaulting unknown fields to
// last-writer-wins so a schema need not enumerate every possible key.
func (s Schema) FieldSpec(name string) FieldSpec {
	for _, f := range s {
		if f.Name == name {
			return f
		}
	}
	return FieldSpec{Name: name, Type: model.FieldScalar}
}

// Registry holds the field-merge schema for each record type, supplied by
// external collaborators at startup (spec §6 "register record types with
// payload schemas and field-merge policies").
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register installs (or replaces) the schema for a record type.
func (r *Registry) Register(recordType string, schema Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[recordType] = schema
}

// Schema returns the registered schema, or an error if the record type was
// never registered — the orchestrator rejects ops for unknown record types
// rather than guessing a merge policy.
func (r *Registry) Schema(recordType string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[recordType]
	if !ok {
		return nil, fmt.Errorf("merge: no schema registered for record type %q", recordType)
	}
	return s, nil
}
