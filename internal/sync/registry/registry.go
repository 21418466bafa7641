// Package registry implements the session registry (C6): the set of live
// sessions per owner, each driven by a lifecycle state machine
// (HANDSHAKING -> CATCHING_UP -> LIVE -> DRAINING -> CLOSED, spec §4.3).
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/driftsync/syncd/internal/sync/clock"
	"github.com/driftsync/syncd/internal/sync/fsmutil"
	"github.com/driftsync/syncd/internal/sync/model"
)

const (
	EventCaughtUp  = "event_caught_up"
	EventGoLive    = "event_go_live"
	EventDrain     = "event_drain"
	EventClose     = "event_close"
	EventReplayLag = "event_replay_lag" // forces LIVE back to CATCHING_UP on reorder-buffer overflow
)

// Entry is one registered session plus the state machine driving it.
type Entry struct {
	Session *model.Session
	fsm     *fsm.FSM
	mu      sync.Mutex
}

// Fire drives the session's lifecycle FSM, keeping Session.State in sync
// with the machine's current state.
func (e *Entry) Fire(ctx context.Context, event string, args ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fsm.Fire(ctx, event, args...); err != nil {
		return fmt.Errorf("registry: session %q: %w", e.Session.SessionID, err)
	}
	e.Session.State = model.SessionState(e.fsm.Current())
	return nil
}

// State returns the session's current lifecycle state.
func (e *Entry) State() model.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Session.State
}

func newEntry(session *model.Session) *Entry {
	e := &Entry{Session: session}

	events := fsm.Events{
		{Name: EventCaughtUp, Src: []string{string(model.StateHandshaking)}, Dst: string(model.StateCatchingUp)},
		{Name: EventGoLive, Src: []string{string(model.StateCatchingUp)}, Dst: string(model.StateLive)},
		{Name: EventReplayLag, Src: []string{string(model.StateLive)}, Dst: string(model.StateCatchingUp)},
		{Name: EventDrain, Src: []string{string(model.StateHandshaking), string(model.StateCatchingUp), string(model.StateLive)}, Dst: string(model.StateDraining)},
		{Name: EventClose, Src: []string{string(model.StateDraining)}, Dst: string(model.StateClosed)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(model.StateLive): fsmutil.WrapEvent(e.onEnterLive),
	}

	e.fsm = fsm.NewFSM(string(model.StateHandshaking), events, callbacks)
	return e
}

// onEnterLive is the hook point for replay-duration metrics once a session
// transitions from CATCHING_UP to LIVE.
func (e *Entry) onEnterLive(ctx context.Context, ev *fsm.Event) error {
	return nil
}

// Registry tracks every live session, indexed by owner and by session id.
type Registry struct {
	mu       sync.RWMutex
	byOwner  map[string]map[string]*Entry // owner_id -> session_id -> entry
	bySessID map[string]*Entry
}

// New returns an empty session registry.
func New() *Registry {
	return &Registry{
		byOwner:  make(map[string]map[string]*Entry),
		bySessID: make(map[string]*Entry),
	}
}

// Open registers a new session in HANDSHAKING and returns its entry.
func (r *Registry) Open(ownerID, deviceID string, clk *clock.Clock) *Entry {
	session := &model.Session{
		SessionID: clock.NewSessionID(),
		OwnerID:   ownerID,
		DeviceID:  deviceID,
		OpenedAt:  clk.Now(),
		State:     model.StateHandshaking,
	}
	entry := newEntry(session)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byOwner[ownerID] == nil {
		r.byOwner[ownerID] = make(map[string]*Entry)
	}
	r.byOwner[ownerID][session.SessionID] = entry
	r.bySessID[session.SessionID] = entry
	return entry
}

// Close removes a session from the registry. The caller is responsible for
// having already driven it to CLOSED via Fire.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.bySessID[sessionID]
	if !ok {
		return
	}
	delete(r.bySessID, sessionID)
	if owned := r.byOwner[entry.Session.OwnerID]; owned != nil {
		delete(owned, sessionID)
		if len(owned) == 0 {
			delete(r.byOwner, entry.Session.OwnerID)
		}
	}
}

// Get returns the entry for a session id, if still registered.
func (r *Registry) Get(sessionID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bySessID[sessionID]
	return e, ok
}

// ForOwner returns every live session for an owner — the fan-out set for
// the pub/sub bus (C7).
func (r *Registry) ForOwner(ownerID string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owned := r.byOwner[ownerID]
	out := make([]*Entry, 0, len(owned))
	for _, e := range owned {
		out = append(out, e)
	}
	return out
}

// LiveSessions returns only the sessions currently in the LIVE state for an
// owner, the set eligible for immediate DELIVER fan-out.
func (r *Registry) LiveSessions(ownerID string) []*Entry {
	all := r.ForOwner(ownerID)
	out := all[:0]
	for _, e := range all {
		if e.State() == model.StateLive {
			out = append(out, e)
		}
	}
	return out
}
