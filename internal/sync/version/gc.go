package version

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/driftsync/syncd/internal/sync/model"
	"github.com/driftsync/syncd/internal/sync/telemetry"
	"github.com/driftsync/syncd/pkg/log"
)

// DefaultGraceWindow is how long a tombstoned or manually-conflicted record
// stays queryable in the hot store before Sweep archives and removes it.
const DefaultGraceWindow = 30 * 24 * time.Hour

// Config bounds the store's garbage-collection behavior. The grace window
// is left configurable rather than a hardcoded constant: a deployment
// syncing infrequently-opened devices needs more room than the default
// before a reconnecting device's tombstones silently vanish.
type Config struct {
	GraceWindow time.Duration
}

// DefaultConfig returns the 30-day grace window.
func DefaultConfig() Config {
	return Config{GraceWindow: DefaultGraceWindow}
}

// Archiver cold-stores a record's final state before Sweep deletes its
// etcd copy. internal/sync/archive.Store satisfies this.
type Archiver interface {
	Archive(ctx context.Context, ownerID, recordType, recordID string, rec *model.Record) error
}

// Sweep scans every record under the store's prefix for tombstones and
// manual-conflict records older than cfg.GraceWindow, archives each via
// archiver (skipped if nil), then deletes its etcd copy and evicts it from
// the cache. It never touches the durable op log, only the current-state
// record keyed by (owner_id, record_type, record_id), so GetSince replay
// for a long-disconnected device is unaffected.
func (s *Store) Sweep(ctx context.Context, cfg Config, archiver Archiver, now time.Time) (int, error) {
	prefix := fmt.Sprintf("%s/records/", s.prefix)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("version: sweep: listing records: %w", err)
	}

	swept := 0
	for _, kv := range resp.Kvs {
		var rec model.Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return swept, fmt.Errorf("version: sweep: decode record at %q: %w", kv.Key, err)
		}
		if !expired(rec, cfg, now) {
			continue
		}

		if archiver != nil {
			if err := archiver.Archive(ctx, rec.OwnerID, rec.RecordType, rec.RecordID, &rec); err != nil {
				return swept, fmt.Errorf("version: sweep: archiving %q: %w", kv.Key, err)
			}
		}
		if _, err := s.client.Delete(ctx, string(kv.Key)); err != nil {
			return swept, fmt.Errorf("version: sweep: deleting %q: %w", kv.Key, err)
		}
		s.cache.Remove(string(kv.Key))

		log.Debug("version: sweep: record archived and removed", "owner_id", rec.OwnerID, "record_type", rec.RecordType, "record_id", rec.RecordID)
		telemetry.ArchivedRecordsTotal.WithLabelValues(rec.RecordType).Inc()
		swept++
	}
	return swept, nil
}

// expired reports whether rec is past its grace window. Only tombstoned
// records and records still carrying unresolved manual conflicts are
// subject to collection; live records are never swept regardless of age.
func expired(rec model.Record, cfg Config, now time.Time) bool {
	var markedAt time.Time
	switch {
	case rec.Tombstone && rec.TombstonedAt != nil:
		markedAt = time.UnixMilli(rec.TombstonedAt.Physical)
	case rec.Tombstone:
		markedAt = time.UnixMilli(rec.UpdatedAt.Physical)
	case len(rec.Conflicts) > 0:
		markedAt = time.UnixMilli(rec.UpdatedAt.Physical)
	default:
		return false
	}
	return now.Sub(markedAt) >= cfg.GraceWindow
}
