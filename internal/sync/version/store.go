// Package version implements the version store (C2): the durable per-owner
// record state and op log, with atomic gap-free op_seq assignment via an
// etcd compare-and-swap transaction and an LRU hot-record cache in front of
// it.
package version

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/driftsync/syncd/internal/sync/merge"
	"github.com/driftsync/syncd/internal/sync/model"
	"github.com/driftsync/syncd/pkg/log"
	"github.com/driftsync/syncd/pkg/options"
)

// recordKey is where the current merged state for one record lives.
func recordKey(prefix, ownerID, recordType, recordID string) string {
	return fmt.Sprintf("%s/records/%s/%s/%s", prefix, ownerID, recordType, recordID)
}

// headSeqKey tracks the highest assigned op_seq for one owner.
func headSeqKey(prefix, ownerID string) string {
	return fmt.Sprintf("%s/owners/%s/head_seq", prefix, ownerID)
}

// logKey is where one committed op lives in the owner's durable log.
func logKey(prefix, ownerID string, seq uint64) string {
	return fmt.Sprintf("%s/owners/%s/log/%020d", prefix, ownerID, seq)
}

// opIDKey is the unique index on (owner_id, op_id) spec §6 requires: it
// lets Commit and FindByOpID detect a replayed op without scanning the log.
func opIDKey(prefix, ownerID string, opID model.OpID) string {
	return fmt.Sprintf("%s/owners/%s/opids/%s/%d", prefix, ownerID, opID.DeviceID, opID.DeviceSeq)
}

// Store is the version store: atomic per-owner commits over etcd, fronted by
// an LRU cache of recently touched records.
type Store struct {
	client *clientv3.Client
	prefix string
	cache  *lru.Cache[string, *model.Record]
}

// New dials etcd per opts and wires an LRU cache sized for a handful of
// active owners' hot record sets.
func New(opts *options.EtcdOptions, cacheSize int) (*Store, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("version: failed to create etcd client: %w", err)
	}

	cache, err := lru.New[string, *model.Record](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("version: failed to create record cache: %w", err)
	}

	return &Store{client: client, prefix: opts.Prefix, cache: cache}, nil
}

// Close releases the underlying etcd client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get returns the current committed state for a record, or nil if it has
// never been created.
func (s *Store) Get(ctx context.Context, ownerID, recordType, recordID string) (*model.Record, error) {
	key := recordKey(s.prefix, ownerID, recordType, recordID)
	if rec, ok := s.cache.Get(key); ok {
		return rec, nil
	}

	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("version: get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var rec model.Record
	if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
		return nil, fmt.Errorf("version: decode record at %q: %w", key, err)
	}
	s.cache.Add(key, &rec)
	return &rec, nil
}

// HeadSeq returns the highest op_seq assigned to the owner so far, or 0 if
// the owner has never committed an op.
func (s *Store) HeadSeq(ctx context.Context, ownerID string) (uint64, error) {
	resp, err := s.client.Get(ctx, headSeqKey(s.prefix, ownerID))
	if err != nil {
		return 0, fmt.Errorf("version: head_seq %q: %w", ownerID, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	var seq uint64
	if err := json.Unmarshal(resp.Kvs[0].Value, &seq); err != nil {
		return 0, fmt.Errorf("version: decode head_seq for %q: %w", ownerID, err)
	}
	return seq, nil
}

// GetSince returns every committed op for an owner with op_seq strictly
// greater than afterSeq, in ascending order — the CATCHING_UP replay source.
func (s *Store) GetSince(ctx context.Context, ownerID string, afterSeq uint64) ([]model.CommittedOp, error) {
	prefix := fmt.Sprintf("%s/owners/%s/log/", s.prefix, ownerID)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("version: get_since %q: %w", ownerID, err)
	}

	ops := make([]model.CommittedOp, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var op model.CommittedOp
		if err := json.Unmarshal(kv.Value, &op); err != nil {
			return nil, fmt.Errorf("version: decode committed op at %q: %w", kv.Key, err)
		}
		if op.OpSeq > afterSeq {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// FindByOpID looks up the (owner_id, op_id) index and returns the
// CommittedOp it was originally committed as, or nil if op_id has never
// been committed for this owner. Push uses this to make resubmission of an
// already-applied op idempotent (spec §4.3 push step 1, §4.1 "An op whose
// op_id has already committed returns that prior op_seq without
// re-applying").
func (s *Store) FindByOpID(ctx context.Context, ownerID string, opID model.OpID) (*model.CommittedOp, error) {
	key := opIDKey(s.prefix, ownerID, opID)
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("version: find_by_op_id %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	var op model.CommittedOp
	if err := json.Unmarshal(resp.Kvs[0].Value, &op); err != nil {
		return nil, fmt.Errorf("version: decode committed op at %q: %w", key, err)
	}
	return &op, nil
}

// AncestorLookup satisfies merge.AncestorLookup with a point lookup of the
// record's current committed state. It does not walk the owner's log, and
// it ignores both vectors: the record it returns is the current one, not a
// snapshot dominated by both.
func (s *Store) AncestorLookup(ctx context.Context) merge.AncestorLookup {
	return func(ownerID, recordType, recordID string, a, b model.VersionVector) (*model.Record, error) {
		return s.Get(ctx, ownerID, recordType, recordID)
	}
}

// Commit atomically assigns the next op_seq for ownerID, advances the
// record's version vector to merged.VersionVector, and appends a
// CommittedOp to the owner's durable log and to the (owner_id, op_id)
// index — all within a single etcd transaction guarded by the current
// head_seq, so concurrent commits for the same owner serialize without
// gaps (spec §4.4 single-writer invariant). Callers must check
// FindByOpID before calling Commit; Commit itself does not deduplicate.
func (s *Store) Commit(ctx context.Context, op model.Operation, merged *model.Record, digest string) (uint64, error) {
	hKey := headSeqKey(s.prefix, op.OwnerID)
	rKey := recordKey(s.prefix, op.OwnerID, op.RecordType, op.RecordID)

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		getResp, err := s.client.Get(ctx, hKey)
		if err != nil {
			return 0, fmt.Errorf("version: commit: read head_seq: %w", err)
		}

		var currentSeq uint64
		var modRev int64
		if len(getResp.Kvs) > 0 {
			if err := json.Unmarshal(getResp.Kvs[0].Value, &currentSeq); err != nil {
				return 0, fmt.Errorf("version: commit: decode head_seq: %w", err)
			}
			modRev = getResp.Kvs[0].ModRevision
		}

		nextSeq := currentSeq + 1
		merged.OpSeq = nextSeq

		recBytes, err := json.Marshal(merged)
		if err != nil {
			return 0, fmt.Errorf("version: commit: encode record: %w", err)
		}
		seqBytes, err := json.Marshal(nextSeq)
		if err != nil {
			return 0, fmt.Errorf("version: commit: encode head_seq: %w", err)
		}
		committed := model.CommittedOp{Op: op, OpSeq: nextSeq, MergedStateDigest: digest}
		opBytes, err := json.Marshal(committed)
		if err != nil {
			return 0, fmt.Errorf("version: commit: encode committed op: %w", err)
		}

		txn := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(hKey), "=", modRev)).
			Then(
				clientv3.OpPut(hKey, string(seqBytes)),
				clientv3.OpPut(rKey, string(recBytes)),
				clientv3.OpPut(logKey(s.prefix, op.OwnerID, nextSeq), string(opBytes)),
				clientv3.OpPut(opIDKey(s.prefix, op.OwnerID, op.OpID), string(opBytes)),
			)
		resp, err := txn.Commit()
		if err != nil {
			return 0, fmt.Errorf("version: commit: txn failed: %w", err)
		}
		if resp.Succeeded {
			s.cache.Add(rKey, merged)
			return nextSeq, nil
		}
		log.Debug("version: commit: head_seq changed concurrently, retrying", "owner_id", op.OwnerID, "attempt", attempt)
	}
	return 0, fmt.Errorf("version: commit: exceeded %d retries for owner %q", maxCommitRetries, op.OwnerID)
}

const maxCommitRetries = 8
