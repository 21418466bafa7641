// Package queue implements the server-edge durable offline queue (C4): ops
// waiting to be delivered to a device that is not currently connected. Each
// device keeps at most one pending entry per record — a later push for the
// same record supersedes (collapses) an earlier one rather than piling up
// (spec §4.5).
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/driftsync/syncd/internal/sync/clock"
	"github.com/driftsync/syncd/internal/sync/model"
	"github.com/driftsync/syncd/pkg/options"
)

// Store is the SQLite-backed per-device queue.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the queue database and ensures its schema
// exists.
func Open(opts *options.SQLiteOptions) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("queue: opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS queue_entries (
	device_id   TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	owner_id    TEXT NOT NULL,
	op_seq      INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (device_id, record_id)
);
CREATE INDEX IF NOT EXISTS idx_queue_entries_device ON queue_entries (device_id, op_seq);
`

// Enqueue inserts or supersedes the pending entry for (deviceID, op's
// record). A second enqueue for the same device+record before the first is
// drained collapses onto it rather than appending, so a device that
// reconnects after a burst of edits sees only one delivery per record. The
// collapsed entry keeps the first offline op's base_vector — the point the
// device last actually saw — while its patch is the newer op's fields
// merged on top of the older one's, so a field the newer op never touched
// is not lost (spec §4.5, S4).
func (s *Store) Enqueue(ctx context.Context, deviceID string, entry model.QueueEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: enqueue for device %q: begin tx: %w", deviceID, err)
	}
	defer tx.Rollback()

	op := entry.Op
	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT payload FROM queue_entries WHERE device_id = ? AND record_id = ?
	`, deviceID, entry.Op.RecordID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		// first pending entry for this device+record, nothing to collapse
	case err != nil:
		return fmt.Errorf("queue: enqueue for device %q: loading existing entry: %w", deviceID, err)
	default:
		var priorOp model.Operation
		if err := json.Unmarshal([]byte(existing), &priorOp); err != nil {
			return fmt.Errorf("queue: enqueue for device %q: decode existing op: %w", deviceID, err)
		}
		op = supersede(priorOp, entry.Op)
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("queue: encode op: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue_entries (device_id, record_id, owner_id, op_seq, payload, enqueued_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (device_id, record_id) DO UPDATE SET
			op_seq      = excluded.op_seq,
			payload     = excluded.payload,
			enqueued_at = excluded.enqueued_at,
			attempts    = 0
	`, deviceID, entry.Op.RecordID, entry.Op.OwnerID, entry.Op.OpID.DeviceSeq, string(payload), entry.EnqueuedAt.Physical)
	if err != nil {
		return fmt.Errorf("queue: enqueue for device %q: %w", deviceID, err)
	}
	return tx.Commit()
}

// supersede collapses an older queued op and a newer one targeting the same
// record into a single op: the newer op's patch fields win per field, any
// field only the older op touched survives, and the result keeps the older
// op's base_vector since that is what the device has actually seen. A
// create or delete fully replaces queue state rather than merging a patch,
// since neither carries a partial field set to merge.
func supersede(older, newer model.Operation) model.Operation {
	if older.Kind != model.OpUpdate || newer.Kind != model.OpUpdate {
		return newer
	}

	merged := newer
	merged.BaseVector = older.BaseVector
	patch := older.Patch.Clone()
	for field, val := range newer.Patch {
		patch[field] = val
	}
	merged.Patch = patch
	return merged
}

// Drain returns every pending entry for a device, ordered by each entry's
// op device_seq (not by enqueue time), without removing them — the caller
// removes entries individually as each is successfully delivered and
// acknowledged.
func (s *Store) Drain(ctx context.Context, deviceID string) ([]model.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload, enqueued_at, attempts FROM queue_entries
		WHERE device_id = ? ORDER BY op_seq ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("queue: drain for device %q: %w", deviceID, err)
	}
	defer rows.Close()

	var entries []model.QueueEntry
	for rows.Next() {
		var payload string
		var enqueuedAt int64
		var attempts int
		if err := rows.Scan(&payload, &enqueuedAt, &attempts); err != nil {
			return nil, fmt.Errorf("queue: scan entry for device %q: %w", deviceID, err)
		}
		var op model.Operation
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			return nil, fmt.Errorf("queue: decode op for device %q: %w", deviceID, err)
		}
		entries = append(entries, model.QueueEntry{
			Op:         op,
			EnqueuedAt: clock.HLC{Physical: enqueuedAt},
			Attempts:   attempts,
		})
	}
	return entries, rows.Err()
}

// Ack removes one delivered entry.
func (s *Store) Ack(ctx context.Context, deviceID, recordID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE device_id = ? AND record_id = ?`, deviceID, recordID)
	if err != nil {
		return fmt.Errorf("queue: ack device %q record %q: %w", deviceID, recordID, err)
	}
	return nil
}

// MarkAttempt increments the delivery attempt counter reported by Drain.
func (s *Store) MarkAttempt(ctx context.Context, deviceID, recordID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET attempts = attempts + 1
		WHERE device_id = ? AND record_id = ?
	`, deviceID, recordID)
	if err != nil {
		return fmt.Errorf("queue: mark attempt for device %q record %q: %w", deviceID, recordID, err)
	}
	return nil
}

// Depth returns the number of pending entries for a device, exported as the
// queue_depth gauge (spec §6).
func (s *Store) Depth(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_entries WHERE device_id = ?`, deviceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: depth for device %q: %w", deviceID, err)
	}
	return n, nil
}
