// Package bus implements the in-process pub/sub fan-out (C7): one FIFO
// topic per owner, at-least-once delivery to every subscriber, and a
// per-subscriber reorder buffer that forces a session back to CATCHING_UP
// on overflow rather than delivering out of order (spec §4.6).
package bus

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/driftsync/syncd/internal/sync/model"
)

// topicBufferSize bounds each owner's fan-out channel so a stalled
// subscriber cannot grow memory unbounded; overflow is handled by dropping
// the slowest subscriber's reorder buffer, not by blocking publishers.
const topicBufferSize = 256

// reorderBufferSize bounds each subscriber's reorder buffer at 64 entries.
// Buffered entries have no timeout: they wait until the gap before them is
// filled or the buffer overflows.
const reorderBufferSize = 64

// Message is one committed op fanned out to subscribers of its owner.
type Message struct {
	Op    model.CommittedOp
	Owner string
}

// Subscription is a single subscriber's view of an owner's topic.
type Subscription struct {
	ch      chan Message
	reorder *lru.Cache[uint64, Message]
	nextSeq uint64
	mu      sync.Mutex
}

// C returns the channel of in-order messages ready for delivery.
func (s *Subscription) C() <-chan Message { return s.ch }

// Deliver buffers an out-of-order message or, once the next expected op_seq
// arrives, flushes every contiguous buffered message in order. Returns true
// if the reorder buffer overflowed and the subscriber must be forced back
// to CATCHING_UP.
func (s *Subscription) Deliver(msg Message) (overflowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextSeq == 0 {
		s.nextSeq = msg.Op.OpSeq
	}

	if msg.Op.OpSeq < s.nextSeq {
		return false // already delivered, at-least-once duplicate
	}
	if msg.Op.OpSeq == s.nextSeq {
		s.ch <- msg
		s.nextSeq++
		s.flushContiguous()
		return false
	}

	if s.reorder.Len() >= reorderBufferSize {
		return true
	}
	s.reorder.Add(msg.Op.OpSeq, msg)
	return false
}

func (s *Subscription) flushContiguous() {
	for {
		next, ok := s.reorder.Get(s.nextSeq)
		if !ok {
			return
		}
		s.reorder.Remove(s.nextSeq)
		s.ch <- next
		s.nextSeq++
	}
}

// Reset clears the reorder buffer and sets the next expected op_seq to
// fromSeq.
func (s *Subscription) Reset(fromSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reorder.Purge()
	s.nextSeq = fromSeq
}

type topic struct {
	mu   sync.RWMutex
	subs map[string]*Subscription // session_id -> subscription
}

// Bus fans out committed ops to every live session subscribed to an owner.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

func (b *Bus) topicFor(owner string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[owner]
	if !ok {
		t = &topic{subs: make(map[string]*Subscription)}
		b.topics[owner] = t
	}
	return t
}

// Subscribe registers sessionID for owner's topic and returns the
// subscription the session reads DELIVER frames from.
func (b *Bus) Subscribe(owner, sessionID string) (*Subscription, error) {
	cache, err := lru.New[uint64, Message](reorderBufferSize)
	if err != nil {
		return nil, fmt.Errorf("bus: creating reorder buffer: %w", err)
	}
	sub := &Subscription{ch: make(chan Message, topicBufferSize), reorder: cache}

	t := b.topicFor(owner)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[sessionID] = sub
	return sub, nil
}

// Unsubscribe removes a session from an owner's topic and closes its
// channel.
func (b *Bus) Unsubscribe(owner, sessionID string) {
	b.mu.RLock()
	t, ok := b.topics[owner]
	b.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[sessionID]; ok {
		close(sub.ch)
		delete(t.subs, sessionID)
	}
}

// Publish fans a committed op out to every subscriber of its owner,
// reporting which sessions overflowed their reorder buffer.
func (b *Bus) Publish(ctx context.Context, owner string, op model.CommittedOp) (overflowedSessions []string) {
	b.mu.RLock()
	t, ok := b.topics[owner]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for sessionID, sub := range t.subs {
		select {
		case <-ctx.Done():
			return overflowedSessions
		default:
		}
		if sub.Deliver(Message{Op: op, Owner: owner}) {
			overflowedSessions = append(overflowedSessions, sessionID)
		}
	}
	return overflowedSessions
}
