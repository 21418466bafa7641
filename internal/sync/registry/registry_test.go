package registry

import (
	"context"
	"testing"

	"github.com/driftsync/syncd/internal/sync/clock"
	"github.com/driftsync/syncd/internal/sync/model"
)

func TestSessionLifecycleTransitions(t *testing.T) {
	r := New()
	clk := clock.New()
	entry := r.Open("owner-1", "device-1", clk)

	if entry.State() != model.StateHandshaking {
		t.Fatalf("expected initial state HANDSHAKING, got %v", entry.State())
	}

	ctx := context.Background()
	if err := entry.Fire(ctx, EventCaughtUp); err != nil {
		t.Fatalf("Fire(EventCaughtUp): %v", err)
	}
	if entry.State() != model.StateCatchingUp {
		t.Fatalf("expected CATCHING_UP, got %v", entry.State())
	}

	if err := entry.Fire(ctx, EventGoLive); err != nil {
		t.Fatalf("Fire(EventGoLive): %v", err)
	}
	if entry.State() != model.StateLive {
		t.Fatalf("expected LIVE, got %v", entry.State())
	}

	if err := entry.Fire(ctx, EventReplayLag); err != nil {
		t.Fatalf("Fire(EventReplayLag): %v", err)
	}
	if entry.State() != model.StateCatchingUp {
		t.Fatalf("expected reorder overflow to force CATCHING_UP, got %v", entry.State())
	}
}

func TestDrainAndCloseFromAnyActiveState(t *testing.T) {
	r := New()
	clk := clock.New()
	entry := r.Open("owner-1", "device-1", clk)
	ctx := context.Background()

	if err := entry.Fire(ctx, EventDrain); err != nil {
		t.Fatalf("Fire(EventDrain) from HANDSHAKING: %v", err)
	}
	if err := entry.Fire(ctx, EventClose); err != nil {
		t.Fatalf("Fire(EventClose): %v", err)
	}
	if entry.State() != model.StateClosed {
		t.Fatalf("expected CLOSED, got %v", entry.State())
	}
}

func TestInvalidTransitionIsRejected(t *testing.T) {
	r := New()
	clk := clock.New()
	entry := r.Open("owner-1", "device-1", clk)
	ctx := context.Background()

	if err := entry.Fire(ctx, EventGoLive); err == nil {
		t.Fatalf("expected error firing EventGoLive directly from HANDSHAKING")
	}
}

func TestRegistryTracksSessionsByOwner(t *testing.T) {
	r := New()
	clk := clock.New()
	a := r.Open("owner-1", "device-a", clk)
	b := r.Open("owner-1", "device-b", clk)
	r.Open("owner-2", "device-c", clk)

	owned := r.ForOwner("owner-1")
	if len(owned) != 2 {
		t.Fatalf("expected 2 sessions for owner-1, got %d", len(owned))
	}

	ctx := context.Background()
	if err := a.Fire(ctx, EventCaughtUp); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if err := a.Fire(ctx, EventGoLive); err != nil {
		t.Fatalf("Fire: %v", err)
	}

	live := r.LiveSessions("owner-1")
	if len(live) != 1 || live[0].Session.SessionID != a.Session.SessionID {
		t.Fatalf("expected only session a to be LIVE, got %+v", live)
	}

	r.Close(b.Session.SessionID)
	if _, ok := r.Get(b.Session.SessionID); ok {
		t.Fatalf("expected session b to be removed from registry after Close")
	}
	if len(r.ForOwner("owner-1")) != 1 {
		t.Fatalf("expected 1 session remaining for owner-1 after close")
	}
}
