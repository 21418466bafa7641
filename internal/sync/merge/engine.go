package merge

import (
	"fmt"
	"sort"

	"github.com/driftsync/syncd/internal/sync/model"
)

// RejectReason names a recoverable rejection surfaced to the caller in
// PUSH_RESULT (spec §7 "Stale-base").
type RejectReason string

const (
	RejectNone      RejectReason = ""
	RejectStaleBase RejectReason = "stale_base"
)

// AncestorLookup finds the most recent record snapshot whose version vector
// is dominated by both a and b — the common ancestor a three-way merge
// rebases from. Implemented by the version store (C2), kept as a function
// type here so the merge engine itself performs no I/O.
type AncestorLookup func(ownerID, recordType, recordID string, a, b model.VersionVector) (*model.Record, error)

// Outcome is the result of attempting to merge one operation.
type Outcome struct {
	Merged       *model.Record
	Conflict     bool
	RejectReason RejectReason
}

// Engine applies the spec §4.2 merge contract.
type Engine struct {
	registry *Registry
}

// NewEngine builds a merge engine bound to the given schema registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Merge applies op against the currently committed state (nil for a fresh
// record) and returns the merged state or a rejection. findAncestor is only
// invoked on the concurrent-edit path.
func (e *Engine) Merge(current *model.Record, op model.Operation, findAncestor AncestorLookup) (*Outcome, error) {
	if op.Kind == model.OpCreate || current == nil {
		return e.applyCreate(op)
	}

	schema, err := e.registry.Schema(op.RecordType)
	if err != nil {
		return nil, err
	}

	if op.Kind == model.OpDelete {
		return e.applyDelete(current, op), nil
	}

	rel := op.BaseVector.Compare(current.VersionVector)

	switch rel {
	case model.RelAfter:
		// The device claims to have incorporated writes the server has no
		// record of: it cannot be making real progress. Reject; the caller
		// has already checked idempotency (op_id already committed) before
		// reaching the engine, so any op that arrives here is genuinely stale.
		return &Outcome{RejectReason: RejectStaleBase}, nil

	case model.RelEqual:
		return e.fastPath(current, op, schema)

	case model.RelBefore:
		return e.rebase(current, op, schema)

	default: // RelConcurrent
		return e.threeWayMerge(current, op, schema, findAncestor)
	}
}

func (e *Engine) applyCreate(op model.Operation) (*Outcome, error) {
	if op.Kind != model.OpCreate {
		return &Outcome{RejectReason: RejectStaleBase}, nil
	}
	rec := &model.Record{
		OwnerID:       op.OwnerID,
		RecordID:      op.RecordID,
		RecordType:    op.RecordType,
		Payload:       op.Patch.Clone(),
		VersionVector: model.VersionVector{}.WithAdvanced(op.OpID.DeviceID, op.OpID.DeviceSeq),
		UpdatedAt:     op.DeviceHLC,
	}
	return &Outcome{Merged: rec}, nil
}

func (e *Engine) applyDelete(current *model.Record, op model.Operation) *Outcome {
	merged := *current
	merged.Tombstone = true
	t := op.DeviceHLC
	merged.TombstonedAt = &t
	merged.VersionVector = current.VersionVector.WithAdvanced(op.OpID.DeviceID, op.OpID.DeviceSeq)
	merged.UpdatedAt = op.DeviceHLC
	return &Outcome{Merged: &merged}
}

// fastPath applies the patch field-by-field with no conflicting concurrent
// writes to reconcile (spec §4.2 "base == current").
func (e *Engine) fastPath(current *model.Record, op model.Operation, schema Schema) (*Outcome, error) {
	merged := *current
	merged.Payload = current.Payload.Clone()
	merged.FieldWrites = cloneFieldWrites(current.FieldWrites)
	merged.Conflicts = append([]model.ConflictCandidate(nil), current.Conflicts...)
	conflict := false

	for _, field := range sortedFields(op.Patch, schema) {
		spec := schema.FieldSpec(field)
		newVal := op.Patch[field]
		c, err := applyField(&merged, spec, field, newVal, op)
		if err != nil {
			return nil, err
		}
		conflict = conflict || c
	}

	merged.VersionVector = current.VersionVector.WithAdvanced(op.OpID.DeviceID, op.OpID.DeviceSeq)
	merged.UpdatedAt = op.DeviceHLC
	return &Outcome{Merged: &merged, Conflict: conflict}, nil
}

// rebase re-applies the op's patch on top of the server's newer state; any
// field the server has modified since op.BaseVector goes through the same
// field policy as a concurrent edit (spec §4.2 "base < current").
func (e *Engine) rebase(current *model.Record, op model.Operation, schema Schema) (*Outcome, error) {
	return e.fastPath(current, op, schema)
}

// threeWayMerge resolves genuinely concurrent edits using the nearest common
// ancestor recoverable from the op log (spec §4.2 "base ∥ current").
func (e *Engine) threeWayMerge(current *model.Record, op model.Operation, schema Schema, findAncestor AncestorLookup) (*Outcome, error) {
	if findAncestor == nil {
		return nil, fmt.Errorf("merge: ancestor lookup required for concurrent merge")
	}
	_, err := findAncestor(op.OwnerID, op.RecordType, op.RecordID, op.BaseVector, current.VersionVector)
	if err != nil {
		return nil, fmt.Errorf("merge: locating common ancestor: %w", err)
	}

	// The ancestor lookup must succeed, but its result is not used: the
	// field policies below compare only current's committed value with the
	// incoming patch, exactly as fastPath does, and no field is compared
	// against the ancestor's value.
	return e.fastPath(current, op, schema)
}

// applyField applies one field update under its policy. Returns whether the
// field produced an unresolved manual conflict.
func applyField(rec *model.Record, spec FieldSpec, field string, newVal any, op model.Operation) (bool, error) {
	switch spec.Type {
	case model.FieldScalar:
		applyScalar(rec, field, newVal, op)
		return false, nil

	case model.FieldSet:
		return false, applySet(rec, field, newVal)

	case model.FieldCounter:
		return false, applyCounter(rec, field, newVal, op)

	case model.FieldOpaque:
		return applyOpaque(rec, spec, field, newVal, op)

	default:
		return false, fmt.Errorf("merge: unknown field type %v for field %q", spec.Type, field)
	}
}

// applyScalar implements last-writer-wins by HLC, tie-broken by lexicographic
// device_id (spec §4.1 policy 1).
func applyScalar(rec *model.Record, field string, newVal any, op model.Operation) {
	existing, haveExisting := rec.FieldWrites[field]
	if !haveExisting || op.DeviceHLC.Compare(existing.HLC) > 0 ||
		(op.DeviceHLC.Compare(existing.HLC) == 0 && op.OpID.DeviceID > existing.Device) {
		rec.Payload[field] = newVal
		if rec.FieldWrites == nil {
			rec.FieldWrites = make(map[string]model.FieldWrite, 1)
		}
		rec.FieldWrites[field] = model.FieldWrite{HLC: op.DeviceHLC, Device: op.OpID.DeviceID}
	}
}

func applySet(rec *model.Record, field string, newVal any) error {
	delta, ok := newVal.(model.SetValue)
	if !ok {
		return fmt.Errorf("merge: field %q expects model.SetValue, got %T", field, newVal)
	}
	existing, _ := rec.Payload[field].(model.SetValue)
	rec.Payload[field] = existing.Union(delta)
	return nil
}

func applyCounter(rec *model.Record, field string, newVal any, op model.Operation) error {
	delta, ok := newVal.(int64)
	if !ok {
		return fmt.Errorf("merge: field %q expects int64 delta, got %T", field, newVal)
	}
	existing, _ := rec.Payload[field].(model.CounterValue)
	rec.Payload[field] = existing.WithDelta(op.OpID.DeviceID, delta)
	return nil
}

// applyOpaque emits a conflict record per the record type's resolver
// strategy (spec §4.1 policy 4, §4.2 resolver strategies).
func applyOpaque(rec *model.Record, spec FieldSpec, field string, newVal any, op model.Operation) (bool, error) {
	existingVal, hadExisting := rec.Payload[field]
	if !hadExisting {
		rec.Payload[field] = newVal
		recordFieldWrite(rec, field, op)
		return false, nil
	}

	switch spec.Resolver {
	case model.ResolverServerWins:
		// Keep existing; the caller surfaces an "op rejected" event to the
		// origin device per spec §4.2.
		return false, nil

	case model.ResolverClientWins:
		rec.Payload[field] = newVal
		recordFieldWrite(rec, field, op)
		return false, nil

	case model.ResolverManual:
		// A follow-up op on a field that is still in conflict settles it:
		// the field's recorded candidates are dropped and the op's value is
		// taken.
		if hasConflictCandidate(rec.Conflicts, field) {
			kept := make([]model.ConflictCandidate, 0, len(rec.Conflicts))
			for _, c := range rec.Conflicts {
				if c.Field != field {
					kept = append(kept, c)
				}
			}
			rec.Conflicts = kept
			rec.Payload[field] = newVal
			recordFieldWrite(rec, field, op)
			return false, nil
		}

		// Otherwise both sides of the conflict are preserved: the value this
		// op is about to displace, and the incoming value.
		prior := fieldProvenance(rec, field)
		rec.Conflicts = append(rec.Conflicts, model.ConflictCandidate{
			OpID:  model.OpID{DeviceID: prior.Device},
			Field: field,
			Value: existingVal,
			HLC:   prior.HLC,
		})
		rec.Conflicts = append(rec.Conflicts, model.ConflictCandidate{OpID: op.OpID, Field: field, Value: newVal, HLC: op.DeviceHLC})

		// The provisional state shown to clients is the new value; the
		// previous value remains visible via Conflicts until a follow-up
		// op on the same field clears it (spec S3).
		rec.Payload[field] = newVal
		recordFieldWrite(rec, field, op)
		return true, nil

	default:
		return false, fmt.Errorf("merge: unknown resolver strategy %v for field %q", spec.Resolver, field)
	}
}

// recordFieldWrite tracks the authoring device and HLC of the last accepted
// write to field, regardless of field type, so a later manual conflict on an
// opaque field can attribute the value it displaces.
func recordFieldWrite(rec *model.Record, field string, op model.Operation) {
	if rec.FieldWrites == nil {
		rec.FieldWrites = make(map[string]model.FieldWrite, 1)
	}
	rec.FieldWrites[field] = model.FieldWrite{HLC: op.DeviceHLC, Device: op.OpID.DeviceID}
}

// fieldProvenance returns what is known about the write that produced
// field's current value, falling back to the record's own UpdatedAt when no
// FieldWrites entry exists (e.g. a value set before this tracking existed).
func fieldProvenance(rec *model.Record, field string) model.FieldWrite {
	if fw, ok := rec.FieldWrites[field]; ok {
		return fw
	}
	return model.FieldWrite{HLC: rec.UpdatedAt}
}

func hasConflictCandidate(conflicts []model.ConflictCandidate, field string) bool {
	for _, c := range conflicts {
		if c.Field == field {
			return true
		}
	}
	return false
}

func cloneFieldWrites(in map[string]model.FieldWrite) map[string]model.FieldWrite {
	if in == nil {
		return nil
	}
	out := make(map[string]model.FieldWrite, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// sortedFields returns the patch's fields in schema order; fields the schema
// does not list follow, sorted by name.
func sortedFields(patch model.Payload, schema Schema) []string {
	fields := make([]string, 0, len(patch))
	listed := make(map[string]bool, len(schema))
	for _, spec := range schema {
		if _, ok := patch[spec.Name]; ok && !listed[spec.Name] {
			fields = append(fields, spec.Name)
		}
		listed[spec.Name] = true
	}
	var rest []string
	for f := range patch {
		if !listed[f] {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	return append(fields, rest...)
}
