package queue

import (
	"context"
	"testing"

	"github.com/driftsync/syncd/internal/sync/clock"
	"github.com/driftsync/syncd/internal/sync/model"
	"github.com/driftsync/syncd/pkg/options"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	opts := options.NewSQLiteOptions()
	opts.Path = "file::memory:?cache=shared"
	opts.MaxOpenConns = 1
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(deviceID, recordID string, seq uint64) model.QueueEntry {
	return model.QueueEntry{
		Op: model.Operation{
			OpID:      model.OpID{DeviceID: "origin-device", DeviceSeq: seq},
			OwnerID:   "owner-1",
			RecordID:  recordID,
			Kind:      model.OpUpdate,
			DeviceHLC: clock.HLC{Physical: int64(seq) * 1000},
		},
		EnqueuedAt: clock.HLC{Physical: int64(seq) * 1000},
	}
}

func TestEnqueueAndDrainOrdersByOpSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, "device-a", testEntry("device-a", "rec-2", 2)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(ctx, "device-a", testEntry("device-a", "rec-1", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entries, err := s.Drain(ctx, "device-a")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Op.RecordID != "rec-1" || entries[1].Op.RecordID != "rec-2" {
		t.Fatalf("expected entries ordered by op_seq, got %+v", entries)
	}
}

func TestEnqueueSupersedesSameRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, "device-a", testEntry("device-a", "rec-1", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(ctx, "device-a", testEntry("device-a", "rec-1", 5)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	n, err := s.Depth(ctx, "device-a")
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected superseded enqueue to collapse to 1 row, got %d", n)
	}

	entries, err := s.Drain(ctx, "device-a")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(entries) != 1 || entries[0].Op.OpID.DeviceSeq != 5 {
		t.Fatalf("expected the later enqueue to win, got %+v", entries)
	}
}

// S4: a device offline through two edits to the same record should see one
// collapsed entry with the newer op's fields merged onto the older one's,
// retaining the base_vector of the first offline op.
func TestEnqueueSupersedeMergesPatchOntoFirstBase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testEntry("device-a", "rec-1", 1)
	first.Op.BaseVector = model.VersionVector{"origin-device": 0}
	first.Op.Patch = model.Payload{"name": "A", "age": "5"}
	if err := s.Enqueue(ctx, "device-a", first); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	second := testEntry("device-a", "rec-1", 2)
	second.Op.BaseVector = model.VersionVector{"origin-device": 1}
	second.Op.Patch = model.Payload{"name": "C"}
	if err := s.Enqueue(ctx, "device-a", second); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entries, err := s.Drain(ctx, "device-a")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the collapsed entries to merge into 1 row, got %d", len(entries))
	}

	got := entries[0].Op
	if got.Patch["name"] != "C" {
		t.Fatalf("expected the newer patch's name field to win, got %v", got.Patch["name"])
	}
	if got.Patch["age"] != "5" {
		t.Fatalf("expected the older patch's age field to survive the merge, got %v", got.Patch["age"])
	}
	if got.BaseVector["origin-device"] != 0 {
		t.Fatalf("expected the collapsed entry to keep the first offline op's base_vector, got %+v", got.BaseVector)
	}
}

func TestAckRemovesEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, "device-a", testEntry("device-a", "rec-1", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Ack(ctx, "device-a", "rec-1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	n, err := s.Depth(ctx, "device-a")
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected queue to be empty after ack, got depth %d", n)
	}
}

func TestMarkAttemptIncrementsCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, "device-a", testEntry("device-a", "rec-1", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.MarkAttempt(ctx, "device-a", "rec-1"); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}

	entries, err := s.Drain(ctx, "device-a")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(entries) != 1 || entries[0].Attempts != 1 {
		t.Fatalf("expected attempts to be incremented, got %+v", entries)
	}
}
