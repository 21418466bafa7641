// Package orchestrator implements the sync orchestrator (C5): the
// owner-serialized push/pull/ack loop tying the merge engine, version
// store, offline queue, session registry, and pub/sub bus together (spec
// §4.3).
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/driftsync/syncd/internal/sync/bus"
	"github.com/driftsync/syncd/internal/sync/clock"
	"github.com/driftsync/syncd/internal/sync/merge"
	"github.com/driftsync/syncd/internal/sync/model"
	"github.com/driftsync/syncd/internal/sync/protocol"
	"github.com/driftsync/syncd/internal/sync/queue"
	"github.com/driftsync/syncd/internal/sync/registry"
	"github.com/driftsync/syncd/internal/sync/telemetry"
	"github.com/driftsync/syncd/internal/sync/version"
	"github.com/driftsync/syncd/pkg/log"
)

// maxConcurrentOwners bounds how many Push calls may run at once across the
// whole process, counting calls still waiting for their owner's lock.
const maxConcurrentOwners = 64

// Orchestrator applies pushed ops, replays history, and fans out commits.
type Orchestrator struct {
	store    *version.Store
	queue    *queue.Store
	engine   *merge.Engine
	bus      *bus.Bus
	registry *registry.Registry
	clock    *clock.Clock

	sem *semaphore.Weighted

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // owner_id -> single-writer lock
}

// New wires the orchestrator's collaborators.
func New(store *version.Store, q *queue.Store, engine *merge.Engine, b *bus.Bus, reg *registry.Registry, clk *clock.Clock) *Orchestrator {
	return &Orchestrator{
		store:    store,
		queue:    q,
		engine:   engine,
		bus:      b,
		registry: reg,
		clock:    clk,
		sem:      semaphore.NewWeighted(maxConcurrentOwners),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) ownerLock(ownerID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[ownerID] = l
	}
	return l
}

// Hello opens a session for (ownerID, deviceID) and reports whether the
// device needs a CATCHING_UP replay before going LIVE.
func (o *Orchestrator) Hello(ctx context.Context, ownerID, deviceID string, lastSeqSeen uint64) (*registry.Entry, protocol.HelloOKBody, error) {
	entry := o.registry.Open(ownerID, deviceID, o.clock)

	headSeq, err := o.store.HeadSeq(ctx, ownerID)
	if err != nil {
		return nil, protocol.HelloOKBody{}, fmt.Errorf("orchestrator: hello: %w", err)
	}

	needsReplay := lastSeqSeen < headSeq
	return entry, protocol.HelloOKBody{
		SessionID:   entry.Session.SessionID,
		HeadSeq:     headSeq,
		NeedsReplay: needsReplay,
	}, nil
}

// PushBatch merges and commits a batch of operations in the order the
// device sent them (spec §5, §6), returning one ack per op keyed by its
// op_id string form.
func (o *Orchestrator) PushBatch(ctx context.Context, ops []model.Operation) (map[string]protocol.OpAck, error) {
	acks := make(map[string]protocol.OpAck, len(ops))
	for _, op := range ops {
		ack, err := o.Push(ctx, op)
		if err != nil {
			return nil, err
		}
		acks[op.OpID.String()] = ack
	}
	return acks, nil
}

// Push merges and commits one operation, publishing the result to every
// session subscribed to the owner on the bus. The origin session is not
// excluded from that publish; its PUSH_RESULT carries the returned op_seq.
func (o *Orchestrator) Push(ctx context.Context, op model.Operation) (protocol.OpAck, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return protocol.OpAck{}, fmt.Errorf("orchestrator: push: %w", err)
	}
	defer o.sem.Release(1)

	lock := o.ownerLock(op.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		telemetry.CommitLatency.WithLabelValues(op.RecordType).Observe(time.Since(start).Seconds())
	}()

	// An op whose op_id has already committed returns its prior op_seq
	// without re-applying (spec §4.3 push step 1, §4.1, universal
	// invariant 2). This must run before the merge so a replayed op never
	// takes the RelBefore rebase path and commits a duplicate log entry.
	if prior, err := o.store.FindByOpID(ctx, op.OwnerID, op.OpID); err != nil {
		return protocol.OpAck{}, fmt.Errorf("orchestrator: push: checking op_id index: %w", err)
	} else if prior != nil {
		return protocol.OpAck{
			OpSeq:    prior.OpSeq,
			Accepted: true,
			Conflict: false,
		}, nil
	}

	current, err := o.store.Get(ctx, op.OwnerID, op.RecordType, op.RecordID)
	if err != nil {
		return protocol.OpAck{}, fmt.Errorf("orchestrator: push: loading current record: %w", err)
	}

	outcome, err := o.engine.Merge(current, op, o.store.AncestorLookup(ctx))
	if err != nil {
		return protocol.OpAck{}, fmt.Errorf("orchestrator: push: merge: %w", err)
	}

	if outcome.RejectReason != merge.RejectNone {
		telemetry.RejectsStaleTotal.WithLabelValues(op.RecordType).Inc()
		return protocol.OpAck{
			Accepted:     false,
			RejectReason: string(outcome.RejectReason),
		}, nil
	}

	digest, err := stateDigest(outcome.Merged)
	if err != nil {
		return protocol.OpAck{}, fmt.Errorf("orchestrator: push: digest: %w", err)
	}
	seq, err := o.store.Commit(ctx, op, outcome.Merged, digest)
	if err != nil {
		return protocol.OpAck{}, fmt.Errorf("orchestrator: push: commit: %w", err)
	}

	relation := relationLabel(op, current)
	telemetry.CommitsTotal.WithLabelValues(relation).Inc()
	if outcome.Conflict {
		for _, c := range outcome.Merged.Conflicts {
			telemetry.ConflictsManualTotal.WithLabelValues(op.RecordType, c.Field).Inc()
		}
	}

	committed := model.CommittedOp{Op: op, OpSeq: seq, MergedStateDigest: digest}
	o.fanOut(ctx, op.OwnerID, committed)

	return protocol.OpAck{
		OpSeq:    seq,
		Accepted: true,
		Conflict: outcome.Conflict,
	}, nil
}

// stateDigest fingerprints a merged record's payload so clients can detect
// divergence without comparing the full record (spec §3 "merged_state_digest").
func stateDigest(rec *model.Record) (string, error) {
	encoded, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

func relationLabel(op model.Operation, current *model.Record) string {
	if current == nil {
		return "create"
	}
	switch op.BaseVector.Compare(current.VersionVector) {
	case model.RelEqual:
		return "equal"
	case model.RelBefore:
		return "before"
	case model.RelAfter:
		return "after"
	default:
		return "concurrent"
	}
}

// fanOut publishes a commit to the bus and forces any session whose reorder
// buffer overflows back into CATCHING_UP.
func (o *Orchestrator) fanOut(ctx context.Context, ownerID string, committed model.CommittedOp) {
	overflowed := o.bus.Publish(ctx, ownerID, committed)
	for _, sessionID := range overflowed {
		telemetry.ReorderDropsTotal.WithLabelValues(ownerID).Inc()
		if entry, ok := o.registry.Get(sessionID); ok {
			if err := entry.Fire(ctx, registry.EventReplayLag); err != nil {
				log.Warn("orchestrator: failed to force session to CATCHING_UP after reorder overflow", "session_id", sessionID, "error", err)
			}
		}
	}
}

// Pull returns committed ops after afterSeq for CATCHING_UP replay.
func (o *Orchestrator) Pull(ctx context.Context, ownerID string, afterSeq uint64) ([]model.CommittedOp, error) {
	ops, err := o.store.GetSince(ctx, ownerID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: pull: %w", err)
	}
	return ops, nil
}

// Ack records a device's acknowledgment and clears any offline-queue entry
// it supersedes.
func (o *Orchestrator) Ack(ctx context.Context, deviceID string, upToSeq uint64) error {
	entries, err := o.queue.Drain(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("orchestrator: ack: draining queue: %w", err)
	}
	for _, e := range entries {
		if e.Op.OpID.DeviceSeq <= upToSeq {
			if err := o.queue.Ack(ctx, deviceID, e.Op.RecordID); err != nil {
				return fmt.Errorf("orchestrator: ack: clearing queue entry: %w", err)
			}
		}
	}
	return nil
}

// Enqueue persists an op for later delivery to a disconnected device.
func (o *Orchestrator) Enqueue(ctx context.Context, deviceID string, entry model.QueueEntry) error {
	if err := o.queue.Enqueue(ctx, deviceID, entry); err != nil {
		return fmt.Errorf("orchestrator: enqueue: %w", err)
	}
	depth, err := o.queue.Depth(ctx, deviceID)
	if err == nil {
		telemetry.QueueDepth.WithLabelValues(deviceID).Set(float64(depth))
	}
	return nil
}
