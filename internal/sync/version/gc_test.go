package version

import (
	"testing"
	"time"

	"github.com/driftsync/syncd/internal/sync/clock"
	"github.com/driftsync/syncd/internal/sync/model"
)

func TestExpiredIgnoresLiveRecords(t *testing.T) {
	rec := model.Record{UpdatedAt: clock.HLC{Physical: 0}}
	cfg := Config{GraceWindow: time.Hour}
	if expired(rec, cfg, time.Unix(1<<20, 0)) {
		t.Fatal("a non-tombstoned record with no conflicts must never expire")
	}
}

func TestExpiredUsesTombstonedAtWhenPresent(t *testing.T) {
	tombstonedAt := clock.HLC{Physical: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()}
	rec := model.Record{
		Tombstone:    true,
		TombstonedAt: &tombstonedAt,
		UpdatedAt:    clock.HLC{Physical: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
	}
	cfg := Config{GraceWindow: 30 * 24 * time.Hour}

	justInside := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	if expired(rec, cfg, justInside) {
		t.Fatal("record should still be within its grace window")
	}

	pastWindow := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	if !expired(rec, cfg, pastWindow) {
		t.Fatal("record should be expired once the grace window has elapsed since tombstoning")
	}
}

func TestExpiredAppliesToUnresolvedConflicts(t *testing.T) {
	rec := model.Record{
		UpdatedAt: clock.HLC{Physical: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
		Conflicts: []model.ConflictCandidate{{Field: "note"}},
	}
	cfg := Config{GraceWindow: time.Hour}
	if !expired(rec, cfg, time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)) {
		t.Fatal("a record with unresolved conflicts past the grace window should expire")
	}
}

func TestDefaultConfigIsThirtyDays(t *testing.T) {
	if got := DefaultConfig().GraceWindow; got != 30*24*time.Hour {
		t.Fatalf("DefaultConfig().GraceWindow = %v, want 30 days", got)
	}
}
