// Package fsmutil adapts looplab/fsm's callback signature to return an
// error directly, used by the session lifecycle FSM (C6).
package fsmutil

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent turns an error-returning callback into an fsm.Callback, routing
// the error back onto the event so the caller can observe it after Fire.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}
