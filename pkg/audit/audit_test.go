package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTest(t *testing.T) *Trail {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tr, err := Open(db)
	require.NoError(t, err)
	return tr
}

func TestAppendAssignsAscendingSequence(t *testing.T) {
	tr := openTest(t)

	s1, err := tr.Append("start", nil)
	require.NoError(t, err)
	s2, err := tr.Append("send_event", json.RawMessage(`{"link":"plc-1"}`))
	require.NoError(t, err)

	require.Equal(t, uint64(1), s1)
	require.Equal(t, uint64(2), s2)

	n, err := tr.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestIterIsOldestFirstAndPreservesPayload(t *testing.T) {
	tr := openTest(t)

	_, err := tr.Append("start", nil)
	require.NoError(t, err)
	_, err = tr.Append("send_event", json.RawMessage(`{"link":"plc-1"}`))
	require.NoError(t, err)
	_, err = tr.Append("stop", nil)
	require.NoError(t, err)

	var kinds []string
	err = tr.Iter(func(r Record) error {
		kinds = append(kinds, r.Kind)
		if r.Kind == "send_event" {
			require.JSONEq(t, `{"link":"plc-1"}`, string(r.Payload))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"start", "send_event", "stop"}, kinds)
}

func TestIterStopsEarlyOnError(t *testing.T) {
	tr := openTest(t)
	_, err := tr.Append("start", nil)
	require.NoError(t, err)
	_, err = tr.Append("stop", nil)
	require.NoError(t, err)

	stopErr := errTestStop
	seen := 0
	err = tr.Iter(func(r Record) error {
		seen++
		return stopErr
	})
	require.ErrorIs(t, err, stopErr)
	require.Equal(t, 1, seen)
}
