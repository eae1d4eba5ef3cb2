package journal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/linkcore/pkg/types"
)

func openTest(t *testing.T) *BoltJournal {
	t.Helper()
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAssignsAscendingIDs(t *testing.T) {
	j := openTest(t)

	id1, err := j.Append([]byte("a"), "link-1")
	require.NoError(t, err)
	id2, err := j.Append([]byte("b"), "link-1")
	require.NoError(t, err)

	require.Less(t, uint64(id1), uint64(id2))
}

func TestIterUnackedIsOldestFirst(t *testing.T) {
	j := openTest(t)

	j.Append([]byte("a"), "link-1")
	j.Append([]byte("b"), "link-1")
	j.Append([]byte("c"), "link-1")

	var seen []types.EventID
	err := j.IterUnacked(func(ev types.Event) error {
		seen = append(seen, ev.ID)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	require.True(t, seen[0] < seen[1])
	require.True(t, seen[1] < seen[2])
}

func TestRemoveIsIdempotent(t *testing.T) {
	j := openTest(t)

	id, err := j.Append([]byte("a"), "link-1")
	require.NoError(t, err)

	require.NoError(t, j.Remove(id))
	require.NoError(t, j.Remove(id))

	n, err := j.CountUnacked()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestAppendRemoveLeavesJournalEquivalentToNoOp(t *testing.T) {
	j := openTest(t)

	before, err := j.CountUnacked()
	require.NoError(t, err)

	id, err := j.Append([]byte("x"), "link-1")
	require.NoError(t, err)
	require.NoError(t, j.Remove(id))

	after, err := j.CountUnacked()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRestartRecoversUnackedEvents(t *testing.T) {
	dir := t.TempDir()

	j1, err := Open(dir)
	require.NoError(t, err)
	id1, err := j1.Append([]byte("a"), "link-1")
	require.NoError(t, err)
	_, err = j1.Append([]byte("b"), "link-1")
	require.NoError(t, err)
	require.NoError(t, j1.Remove(id1))
	require.NoError(t, j1.Close())

	j2, err := Open(dir)
	require.NoError(t, err)
	defer j2.Close()

	n, err := j2.CountUnacked()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var payloads [][]byte
	err = j2.IterUnacked(func(ev types.Event) error {
		payloads = append(payloads, ev.Payload)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("b")}, payloads)
}
