// Package journal is the durable, ordered store of outbound events
// awaiting acknowledgement (§4.2). It is confined to the dispatcher
// goroutine; callers never need their own locking.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/linkcore/pkg/coreerrors"
	"github.com/cuemby/linkcore/pkg/types"
)

var bucketEvents = []byte("events")

// Journal is the capability set the dispatcher depends on, following
// the teacher's pkg/storage.Store interface shape with one production
// implementation (BoltJournal) and no need for a second for tests —
// a temp-dir BoltJournal is already fast and deterministic enough.
type Journal interface {
	Append(payload []byte, targetLink string) (types.EventID, error)
	IterUnacked(func(types.Event) error) error
	Remove(id types.EventID) error
	CountUnacked() (int, error)
	Close() error
}

// BoltJournal persists events in a single bbolt database file, one
// bucket keyed by the 8-byte big-endian event_id, grounded on the
// teacher's pkg/storage.BoltStore.
type BoltJournal struct {
	db *bolt.DB
}

// Open creates or opens the journal database under dir/journal.db.
func Open(dir string) (*BoltJournal, error) {
	path := filepath.Join(dir, "journal.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open journal: %v", coreerrors.ErrStorageIO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create bucket: %v", coreerrors.ErrStorageIO, err)
	}
	return &BoltJournal{db: db}, nil
}

func (j *BoltJournal) Close() error { return j.db.Close() }

// DB exposes the underlying Bolt handle so sibling components (the
// command audit trail, component 12) can share the same journal.db
// file with their own bucket rather than opening a second file.
func (j *BoltJournal) DB() *bolt.DB { return j.db }

type record struct {
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
	TargetLink string    `json:"target_link"`
}

// Append durably stores a new event and assigns it a monotonically
// increasing EventID via Bolt's own bucket sequence, replacing a
// hand-rolled next_id counter file (§4.2).
func (j *BoltJournal) Append(payload []byte, targetLink string) (types.EventID, error) {
	var id types.EventID
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = types.EventID(seq)
		rec := record{Payload: payload, CreatedAt: time.Now(), TargetLink: targetLink}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(keyFor(id), data)
	})
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return 0, fmt.Errorf("%w: append event: %v", coreerrors.ErrStorageFull, err)
		}
		return 0, fmt.Errorf("%w: append event: %v", coreerrors.ErrStorageIO, err)
	}
	return id, nil
}

// IterUnacked walks the bucket cursor in key order, which is
// event_id-ascending (oldest first) since keys are big-endian. fn may
// return an error to stop iteration early; that error is returned
// unchanged.
func (j *BoltJournal) IterUnacked(fn func(types.Event) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: decode event %x: %v", coreerrors.ErrStorageCorruption, k, err)
			}
			ev := types.Event{
				ID:         idFromKey(k),
				CreatedAt:  rec.CreatedAt,
				Payload:    rec.Payload,
				TargetLink: rec.TargetLink,
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Remove deletes an event; it is idempotent, quietly succeeding if
// the key is already absent (§4.2).
func (j *BoltJournal) Remove(id types.EventID) error {
	err := j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).Delete(keyFor(id))
	})
	if err != nil {
		return fmt.Errorf("%w: remove event %d: %v", coreerrors.ErrStorageIO, id, err)
	}
	return nil
}

// CountUnacked returns the number of events still in the journal.
func (j *BoltJournal) CountUnacked() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketEvents).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count unacked: %v", coreerrors.ErrStorageIO, err)
	}
	return n, nil
}

func keyFor(id types.EventID) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func idFromKey(k []byte) types.EventID {
	return types.EventID(binary.BigEndian.Uint64(k))
}
