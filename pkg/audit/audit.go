// Package audit is the command audit trail (component 12): a durable,
// append-only log of accepted façade commands (Start, Stop, SendEvent)
// for offline postmortems. It is a single-node analogue of the
// teacher's Raft-replicated command log, reduced to a plain durable
// append since this core runs without a consensus group — records are
// purely observational and are never replayed back into core state.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/linkcore/pkg/coreerrors"
)

var bucketAudit = []byte("audit")

// Record is one accepted command, persisted verbatim for later
// inspection. Kind is the façade method name ("start", "stop",
// "send_event"); Payload is whatever arguments are worth recording,
// JSON-encoded by the caller.
type Record struct {
	Seq     uint64          `json:"seq"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Trail is the audit log. It shares the journal's Bolt handle rather
// than opening a second file, since Bolt holds an exclusive file lock
// and the two buckets live naturally side by side in one database.
type Trail struct {
	db *bolt.DB
}

// Open creates the audit bucket in db if absent and returns a Trail
// bound to it. db is expected to be journal.BoltJournal's handle,
// obtained via its DB() accessor.
func Open(db *bolt.DB) (*Trail, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create audit bucket: %v", coreerrors.ErrStorageIO, err)
	}
	return &Trail{db: db}, nil
}

// Append records kind with the given payload, assigning it the next
// sequence number in the bucket. It never returns an error to the
// caller's command path by design in practice, but a failed fsync must
// still surface so Core can log it rather than silently losing audit
// coverage.
func (t *Trail) Append(kind string, payload json.RawMessage) (uint64, error) {
	var seq uint64
	err := t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		s, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = s
		rec := Record{Seq: seq, Kind: kind, Payload: payload, At: time.Now()}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(keyFor(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: append audit record: %v", coreerrors.ErrStorageIO, err)
	}
	return seq, nil
}

// Iter walks the audit log in sequence order, oldest first. fn may
// return an error to stop iteration early; that error is returned
// unchanged.
func (t *Trail) Iter(fn func(Record) error) error {
	return t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: decode audit record %x: %v", coreerrors.ErrStorageCorruption, k, err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of records persisted so far.
func (t *Trail) Count() (int, error) {
	var n int
	err := t.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketAudit).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count audit records: %v", coreerrors.ErrStorageIO, err)
	}
	return n, nil
}

func keyFor(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
