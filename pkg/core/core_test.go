package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/linkcore/pkg/audit"
	"github.com/cuemby/linkcore/pkg/coreerrors"
	"github.com/cuemby/linkcore/pkg/journal"
	"github.com/cuemby/linkcore/pkg/transport"
	"github.com/cuemby/linkcore/pkg/types"
)

func newTestCore(t *testing.T) (*Core, *transport.Fake) {
	t.Helper()
	fake := transport.NewFake()
	cfg := Config{
		Links: []types.LinkConfig{{
			Name:               "plc-1",
			IngressTopics:      []string{"plc-1/status"},
			EgressTopic:        "plc-1/cmd",
			PeerSilenceTimeout: 60 * time.Second,
			AckTimeout:         5 * time.Second,
			MaxInFlight:        4,
		}},
		JournalDir:               t.TempDir(),
		DispatcherQueueDepth:     16,
		DispatcherEnqueueTimeout: time.Second,
		StopDeadline:             time.Second,
		NewAdapter:               func(types.LinkConfig) transport.Adapter { return fake },
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c, fake
}

func TestValidateRejectsEmptyLinks(t *testing.T) {
	err := Config{JournalDir: "x"}.Validate()
	require.Error(t, err)
}

func TestValidateRejectsLinkWithNoIngressTopics(t *testing.T) {
	cfg := Config{
		JournalDir: "x",
		Links:      []types.LinkConfig{{Name: "plc-1"}},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateLinkNames(t *testing.T) {
	cfg := Config{
		JournalDir: "x",
		Links: []types.LinkConfig{
			{Name: "plc-1", IngressTopics: []string{"a"}},
			{Name: "plc-1", IngressTopics: []string{"b"}},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestStartTwiceIsRejected(t *testing.T) {
	c, _ := newTestCore(t)
	require.NoError(t, c.Start())
	require.ErrorIs(t, c.Start(), coreerrors.ErrAlreadyStarted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	// Stop closes the journal file the audit trail shares, so reopen it
	// to count what was recorded.
	j, err := journal.Open(c.cfg.JournalDir)
	require.NoError(t, err)
	defer j.Close()
	trail, err := audit.Open(j.DB())
	require.NoError(t, err)
	n, err := trail.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n) // start + stop
}

func TestSendEventAppearsInAuditTrail(t *testing.T) {
	c, fake := newTestCore(t)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		s, _ := c.LinkState("plc-1")
		return s == types.StateConnecting
	}, time.Second, time.Millisecond)

	fake.InjectConnected()
	fake.InjectSubAck("plc-1/status")
	fake.InjectMessage("plc-1/status", []byte("hi"))

	require.Eventually(t, func() bool {
		s, _ := c.LinkState("plc-1")
		return s == types.StateActive
	}, time.Second, time.Millisecond)

	_, err := c.SendEvent([]byte("v=1"), "plc-1")
	require.NoError(t, err)

	n, err := c.trail.Count()
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 2) // start + send_event

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func TestFacadeCallsBeforeStartReturnErrNotStarted(t *testing.T) {
	c, _ := newTestCore(t)

	_, err := c.SendEvent([]byte("v=1"), "plc-1")
	require.ErrorIs(t, err, coreerrors.ErrNotStarted)

	_, err = c.LinkState("plc-1")
	require.ErrorIs(t, err, coreerrors.ErrNotStarted)

	_, err = c.LinkStats("plc-1")
	require.ErrorIs(t, err, coreerrors.ErrNotStarted)

	_, err = c.Health()
	require.ErrorIs(t, err, coreerrors.ErrNotStarted)

	_, err = c.SubscribeStateChanges(func(types.StateChange) {})
	require.ErrorIs(t, err, coreerrors.ErrNotStarted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, c.Stop(ctx), coreerrors.ErrNotStarted)
}
