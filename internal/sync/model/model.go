// Package model defines the data types shared across every sync component:
// version vectors, records, operations, sessions, and queue entries (spec §3).
package model

import (
	"fmt"
	"sort"

	"github.com/driftsync/syncd/internal/sync/clock"
)

// VersionVector maps a device id to the highest op_seq-local counter from
// that device the record has incorporated.
type VersionVector map[string]uint64

// Clone returns an independent copy.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Relation classifies how two version vectors relate to one another.
type Relation int

const (
	// RelEqual means the two vectors are identical.
	RelEqual Relation = iota
	// RelBefore means the receiver is componentwise <= other, with at
	// least one strictly smaller entry.
	RelBefore
	// RelAfter is the inverse of RelBefore.
	RelAfter
	// RelConcurrent means neither vector dominates the other.
	RelConcurrent
)

// Compare determines the partial-order relation of v to o.
func (v VersionVector) Compare(o VersionVector) Relation {
	vLessOrEq, oLessOrEq := true, true

	keys := make(map[string]struct{}, len(v)+len(o))
	for k := range v {
		keys[k] = struct{}{}
	}
	for k := range o {
		keys[k] = struct{}{}
	}

	for k := range keys {
		vv, ov := v[k], o[k]
		if vv > ov {
			vLessOrEq = false
		}
		if vv < ov {
			oLessOrEq = false
		}
	}

	switch {
	case vLessOrEq && oLessOrEq:
		return RelEqual
	case vLessOrEq:
		return RelBefore
	case oLessOrEq:
		return RelAfter
	default:
		return RelConcurrent
	}
}

// Merge returns the componentwise-maximum of v and o, used to advance a
// record's version vector after a successful commit.
func (v VersionVector) Merge(o VersionVector) VersionVector {
	out := v.Clone()
	for k, val := range o {
		if val > out[k] {
			out[k] = val
		}
	}
	return out
}

// WithAdvanced returns a copy of v with device advanced to seq, used when
// applying the authoring device's own op.
func (v VersionVector) WithAdvanced(device string, seq uint64) VersionVector {
	out := v.Clone()
	if seq > out[device] {
		out[device] = seq
	}
	return out
}

// DeviceIDs returns the vector's keys sorted for deterministic iteration
// (used by the last-writer-wins device_id tiebreak in the merge engine).
func (v VersionVector) DeviceIDs() []string {
	ids := make([]string, 0, len(v))
	for k := range v {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// FieldType tags how a payload field should be merged (spec §4.1, §9
// "Dynamic typing of payloads").
type FieldType int

const (
	FieldScalar FieldType = iota
	FieldSet
	FieldCounter
	FieldOpaque
)

// SetEntry is one member of a set-typed field, carrying enough history to
// resolve concurrent add/remove races and to retain tombstoned removals for
// the configured grace window (spec §4.1 policy 2, §3 tombstone lifecycle).
type SetEntry struct {
	Tombstoned bool      `json:"tombstoned"`
	HLC        clock.HLC `json:"hlc"`
}

// SetValue is a set-typed field's payload representation: member -> entry.
type SetValue map[string]SetEntry

// Clone returns an independent copy.
func (s SetValue) Clone() SetValue {
	out := make(SetValue, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Union merges o into s, keeping the entry with the later HLC per member so
// a concurrent add and remove of the same member resolve deterministically.
func (s SetValue) Union(o SetValue) SetValue {
	out := s.Clone()
	for member, entry := range o {
		existing, ok := out[member]
		if !ok || entry.HLC.Compare(existing.HLC) > 0 {
			out[member] = entry
		}
	}
	return out
}

// CounterValue is a counter-typed field's payload representation: the
// committed base plus the deltas applied by each device since, so
// concurrent increments compose by summation (spec §4.1 policy 3).
type CounterValue struct {
	Base   int64            `json:"base"`
	Deltas map[string]int64 `json:"deltas,omitempty"` // device_id -> delta
}

// Total returns base + the sum of every recorded delta.
func (c CounterValue) Total() int64 {
	total := c.Base
	for _, d := range c.Deltas {
		total += d
	}
	return total
}

// WithDelta returns a copy with device's delta added to (not replacing) any
// existing delta from the same device, so successive increments from one
// device accumulate.
func (c CounterValue) WithDelta(device string, delta int64) CounterValue {
	out := CounterValue{Base: c.Base, Deltas: make(map[string]int64, len(c.Deltas)+1)}
	for k, v := range c.Deltas {
		out.Deltas[k] = v
	}
	out.Deltas[device] += delta
	return out
}

// ResolverStrategy picks how an opaque-blob conflict is settled (spec §4.2).
type ResolverStrategy int

const (
	ResolverServerWins ResolverStrategy = iota
	ResolverClientWins
	ResolverManual
)

// Payload is a record's typed field map: field_name -> value. The
// interpretation of each value is driven by the registered Schema, not by
// the payload's own Go type (spec §9 "tag-variant representation").
type Payload map[string]any

// Clone returns a shallow copy sufficient for the merge engine's
// field-by-field overwrite semantics.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// OpKind enumerates the three operation shapes a device may author.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// OpID uniquely and permanently identifies an Operation (spec §3).
type OpID struct {
	DeviceID  string `json:"device_id"`
	DeviceSeq uint64 `json:"device_seq"`
}

// String renders the op id as "<device_id>.<device_seq>", used as the map
// key for a PUSH_RESULT's acks (spec §6).
func (o OpID) String() string {
	return fmt.Sprintf("%s.%d", o.DeviceID, o.DeviceSeq)
}

// Operation is an atomic change proposed by a device.
type Operation struct {
	OpID       OpID          `json:"op_id"`
	OwnerID    string        `json:"owner_id"`
	RecordType string        `json:"record_type"`
	RecordID   string        `json:"record_id"`
	Kind       OpKind        `json:"kind"`
	BaseVector VersionVector `json:"base_vector"`
	Patch      Payload       `json:"patch"`
	DeviceHLC  clock.HLC     `json:"device_hlc"`
}

// Record is the synchronized unit, identified by (owner_id, record_id).
type Record struct {
	OwnerID       string        `json:"owner_id"`
	RecordID      string        `json:"record_id"`
	RecordType    string        `json:"record_type"`
	Payload       Payload       `json:"payload"`
	VersionVector VersionVector `json:"version_vector"`
	OpSeq         uint64        `json:"op_seq"`
	UpdatedAt     clock.HLC     `json:"updated_at"`
	Tombstone     bool          `json:"tombstone"`
	TombstonedAt  *clock.HLC    `json:"tombstoned_at,omitempty"`

	// Conflicts holds unresolved manual-strategy candidates alongside the
	// chosen provisional state (spec §4.2 "manual" resolver).
	Conflicts []ConflictCandidate `json:"conflicts,omitempty"`

	// FieldWrites tracks the HLC and authoring device of the last write
	// accepted per scalar or opaque field, so the LWW tiebreak survives across
	// multiple sequential merges without re-deriving it from the op log.
	FieldWrites map[string]FieldWrite `json:"field_writes,omitempty"`
}

// FieldWrite records who last wrote a scalar or opaque field.
type FieldWrite struct {
	HLC    clock.HLC `json:"hlc"`
	Device string    `json:"device"`
}

// ConflictCandidate is one losing (or pending) side of a manual conflict.
type ConflictCandidate struct {
	OpID  OpID    `json:"op_id"`
	Field string  `json:"field"`
	Value any     `json:"value"`
	HLC   clock.HLC `json:"hlc"`
}

// CommittedOp is one entry in the durable owner log.
type CommittedOp struct {
	Op                Operation `json:"op"`
	OpSeq             uint64    `json:"op_seq"`
	MergedStateDigest string    `json:"merged_state_digest"`
}

// SessionState is one state of the per-session lifecycle FSM (spec §4.3).
type SessionState string

const (
	StateHandshaking SessionState = "HANDSHAKING"
	StateCatchingUp  SessionState = "CATCHING_UP"
	StateLive        SessionState = "LIVE"
	StateDraining    SessionState = "DRAINING"
	StateClosed      SessionState = "CLOSED"
)

// Session is a live connection between one device and the server.
type Session struct {
	SessionID   string
	OwnerID     string
	DeviceID    string
	OpenedAt    clock.HLC
	LastAckSeq  uint64
	Subscribed  bool
	State       SessionState
}

// QueueEntry is an op persisted while its target device is unreachable.
type QueueEntry struct {
	Op         Operation
	EnqueuedAt clock.HLC
	Attempts   int
}
