package merge

import (
	"testing"

	"github.com/driftsync/syncd/internal/sync/clock"
	"github.com/driftsync/syncd/internal/sync/model"
)

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register("note", Schema{
		{Name: "title", Type: model.FieldScalar},
		{Name: "tags", Type: model.FieldSet},
		{Name: "view_count", Type: model.FieldCounter},
		{Name: "attachment", Type: model.FieldOpaque, Resolver: model.ResolverManual},
	})
	return r
}

func mustMerge(t *testing.T, e *Engine, cur *model.Record, op model.Operation, lookup AncestorLookup) *Outcome {
	t.Helper()
	out, err := e.Merge(cur, op, lookup)
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	return out
}

// S1: two devices concurrently edit disjoint fields on the same record; both
// changes survive with no conflict reported.
func TestMergeConcurrentDisjointFieldsNoConflict(t *testing.T) {
	e := NewEngine(testRegistry())

	base := model.VersionVector{"dev-a": 1, "dev-b": 1}
	current := &model.Record{
		OwnerID: "owner-1", RecordID: "rec-1", RecordType: "note",
		Payload:       model.Payload{"title": "old"},
		VersionVector: base,
	}

	opA := model.Operation{
		OpID:       model.OpID{DeviceID: "dev-a", DeviceSeq: 2},
		OwnerID:    "owner-1", RecordType: "note", RecordID: "rec-1",
		Kind:       model.OpUpdate,
		BaseVector: base,
		Patch:      model.Payload{"title": "from-a"},
		DeviceHLC:  clock.HLC{Physical: 100, Logical: 0},
	}
	afterA := mustMerge(t, e, current, opA, nil)
	if afterA.Conflict {
		t.Fatalf("unexpected conflict applying disjoint field from dev-a")
	}

	// dev-b's op was built against the same base, concurrently with dev-a's;
	// after dev-a's commit that base is behind the record, so it is rebased.
	opB := model.Operation{
		OpID:       model.OpID{DeviceID: "dev-b", DeviceSeq: 2},
		OwnerID:    "owner-1", RecordType: "note", RecordID: "rec-1",
		Kind:       model.OpUpdate,
		BaseVector: base,
		Patch:      model.Payload{"view_count": int64(1)},
		DeviceHLC:  clock.HLC{Physical: 101, Logical: 0},
	}
	rel := opB.BaseVector.Compare(afterA.Merged.VersionVector)
	if rel != model.RelBefore {
		t.Fatalf("expected base-behind (rebase) relation, got %v", rel)
	}

	afterB := mustMerge(t, e, afterA.Merged, opB, func(string, string, string, model.VersionVector, model.VersionVector) (*model.Record, error) {
		return current, nil
	})
	if afterB.Conflict {
		t.Fatalf("unexpected conflict applying disjoint field from dev-b")
	}
	if afterB.Merged.Payload["title"] != "from-a" {
		t.Fatalf("expected dev-a's title to survive, got %v", afterB.Merged.Payload["title"])
	}
	cv, ok := afterB.Merged.Payload["view_count"].(model.CounterValue)
	if !ok || cv.Total() != 1 {
		t.Fatalf("expected view_count total 1, got %v", afterB.Merged.Payload["view_count"])
	}
}

// An op whose base vector dominates the current record's (claims progress
// the server never recorded) is rejected as stale_base rather than reapplied.
func TestMergeRejectsStaleBase(t *testing.T) {
	e := NewEngine(testRegistry())

	current := &model.Record{
		OwnerID: "owner-1", RecordID: "rec-1", RecordType: "note",
		Payload:       model.Payload{"title": "current"},
		VersionVector: model.VersionVector{"dev-a": 5},
	}
	op := model.Operation{
		OpID:       model.OpID{DeviceID: "dev-a", DeviceSeq: 6},
		OwnerID:    "owner-1", RecordType: "note", RecordID: "rec-1",
		Kind:       model.OpUpdate,
		BaseVector: model.VersionVector{"dev-a": 9}, // claims progress the server never recorded
		Patch:      model.Payload{"title": "bogus"},
		DeviceHLC:  clock.HLC{Physical: 200, Logical: 0},
	}

	out := mustMerge(t, e, current, op, nil)
	if out.RejectReason != RejectStaleBase {
		t.Fatalf("expected stale_base rejection, got %+v", out)
	}
	if out.Merged != nil {
		t.Fatalf("expected no merged record on rejection")
	}
}

// base < current (device is behind) rebases cleanly rather than rejecting.
func TestMergeRebasesWhenBaseIsBehind(t *testing.T) {
	e := NewEngine(testRegistry())

	current := &model.Record{
		OwnerID: "owner-1", RecordID: "rec-1", RecordType: "note",
		Payload:       model.Payload{"title": "newer"},
		VersionVector: model.VersionVector{"dev-a": 3, "dev-b": 1},
	}
	op := model.Operation{
		OpID:       model.OpID{DeviceID: "dev-b", DeviceSeq: 2},
		OwnerID:    "owner-1", RecordType: "note", RecordID: "rec-1",
		Kind:       model.OpUpdate,
		BaseVector: model.VersionVector{"dev-a": 3, "dev-b": 0},
		Patch:      model.Payload{"view_count": int64(4)},
		DeviceHLC:  clock.HLC{Physical: 300, Logical: 0},
	}

	out := mustMerge(t, e, current, op, nil)
	if out.RejectReason != RejectNone {
		t.Fatalf("unexpected rejection: %v", out.RejectReason)
	}
	if out.Merged.Payload["title"] != "newer" {
		t.Fatalf("expected server's newer title to survive rebase")
	}
	cv := out.Merged.Payload["view_count"].(model.CounterValue)
	if cv.Total() != 4 {
		t.Fatalf("expected view_count total 4, got %d", cv.Total())
	}
}

// S3: concurrent writes to an opaque manual-resolver field produce a
// conflict candidate rather than silently picking a winner.
func TestMergeManualResolverRecordsConflict(t *testing.T) {
	e := NewEngine(testRegistry())

	current := &model.Record{
		OwnerID: "owner-1", RecordID: "rec-1", RecordType: "note",
		Payload:       model.Payload{"attachment": "blob-a"},
		VersionVector: model.VersionVector{"dev-a": 1, "dev-b": 1},
	}
	op := model.Operation{
		OpID:       model.OpID{DeviceID: "dev-b", DeviceSeq: 2},
		OwnerID:    "owner-1", RecordType: "note", RecordID: "rec-1",
		Kind:       model.OpUpdate,
		BaseVector: model.VersionVector{"dev-a": 1, "dev-b": 1},
		Patch:      model.Payload{"attachment": "blob-b"},
		DeviceHLC:  clock.HLC{Physical: 400, Logical: 0},
	}

	out := mustMerge(t, e, current, op, nil)
	if !out.Conflict {
		t.Fatalf("expected manual resolver to flag a conflict")
	}
	if len(out.Merged.Conflicts) != 2 {
		t.Fatalf("expected both the displaced and incoming values preserved as conflict candidates, got %d", len(out.Merged.Conflicts))
	}
	for _, c := range out.Merged.Conflicts {
		if c.Field != "attachment" {
			t.Fatalf("expected conflict on field attachment, got %q", c.Field)
		}
	}
	if out.Merged.Conflicts[0].Value != "blob-a" {
		t.Fatalf("expected the displaced server value blob-a preserved first, got %v", out.Merged.Conflicts[0].Value)
	}
	if out.Merged.Conflicts[1].Value != "blob-b" {
		t.Fatalf("expected the incoming value blob-b preserved second, got %v", out.Merged.Conflicts[1].Value)
	}
	if out.Merged.Payload["attachment"] != "blob-b" {
		t.Fatalf("expected provisional payload to show the incoming value, got %v", out.Merged.Payload["attachment"])
	}
}

func TestMergeCreateRecordFromScratch(t *testing.T) {
	e := NewEngine(testRegistry())

	op := model.Operation{
		OpID:       model.OpID{DeviceID: "dev-a", DeviceSeq: 1},
		OwnerID:    "owner-1", RecordType: "note", RecordID: "rec-new",
		Kind:       model.OpCreate,
		BaseVector: model.VersionVector{},
		Patch:      model.Payload{"title": "hello"},
		DeviceHLC:  clock.HLC{Physical: 10, Logical: 0},
	}

	out := mustMerge(t, e, nil, op, nil)
	if out.Merged.Payload["title"] != "hello" {
		t.Fatalf("expected created record to carry patch payload")
	}
	if out.Merged.VersionVector["dev-a"] != 1 {
		t.Fatalf("expected version vector to record the creating device's seq")
	}
}

func TestMergeDeleteTombstonesRecord(t *testing.T) {
	e := NewEngine(testRegistry())

	current := &model.Record{
		OwnerID: "owner-1", RecordID: "rec-1", RecordType: "note",
		Payload:       model.Payload{"title": "x"},
		VersionVector: model.VersionVector{"dev-a": 1},
	}
	op := model.Operation{
		OpID:       model.OpID{DeviceID: "dev-a", DeviceSeq: 2},
		OwnerID:    "owner-1", RecordType: "note", RecordID: "rec-1",
		Kind:       model.OpDelete,
		BaseVector: model.VersionVector{"dev-a": 1},
		DeviceHLC:  clock.HLC{Physical: 500, Logical: 0},
	}

	out := mustMerge(t, e, current, op, nil)
	if !out.Merged.Tombstone {
		t.Fatalf("expected record to be tombstoned")
	}
	if out.Merged.TombstonedAt == nil {
		t.Fatalf("expected TombstonedAt to be set")
	}
}
