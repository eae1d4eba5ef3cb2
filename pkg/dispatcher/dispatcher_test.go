package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/linkcore/pkg/clock"
	"github.com/cuemby/linkcore/pkg/journal"
	"github.com/cuemby/linkcore/pkg/transport"
	"github.com/cuemby/linkcore/pkg/types"
)

type testRig struct {
	d    *Dispatcher
	clk  *clock.Fake
	fake *transport.Fake
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	clk := clock.NewFake(time.Now())
	fake := transport.NewFake()

	cfg := Config{
		Links: []types.LinkConfig{{
			Name:               "plc-1",
			IngressTopics:      []string{"plc-1/status", "plc-1/alarms"},
			EgressTopic:        "plc-1/cmd",
			PeerSilenceTimeout: 60 * time.Second,
			AckTimeout:         5 * time.Second,
			MaxInFlight:        8,
		}},
		QueueDepth:     16,
		EnqueueTimeout: time.Second,
		StopDeadline:   time.Second,
		NewAdapter:     func(types.LinkConfig) transport.Adapter { return fake },
	}

	d := New(cfg, j, clk)
	go d.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		d.Stop(ctx)
	})
	return &testRig{d: d, clk: clk, fake: fake}
}

func TestDispatcherActivatesLinkEndToEnd(t *testing.T) {
	r := newTestRig(t)
	require.NoError(t, r.d.Start())

	state, err := r.d.LinkState("plc-1")
	require.NoError(t, err)
	require.Equal(t, types.StateConnecting, state)

	r.fake.InjectConnected()
	require.Eventually(t, func() bool {
		s, _ := r.d.LinkState("plc-1")
		return s == types.StateAwaitingSetupAndPeer
	}, time.Second, time.Millisecond)

	r.fake.InjectSubAck("plc-1/status")
	r.fake.InjectSubAck("plc-1/alarms")
	require.Eventually(t, func() bool {
		s, _ := r.d.LinkState("plc-1")
		return s == types.StateAwaitingPeer
	}, time.Second, time.Millisecond)

	r.fake.InjectMessage("plc-1/status", []byte("hello"))
	require.Eventually(t, func() bool {
		s, _ := r.d.LinkState("plc-1")
		return s == types.StateActive
	}, time.Second, time.Millisecond)
}

func TestDispatcherSendEventPublishesAndAcksRemoveFromBacklog(t *testing.T) {
	r := newTestRig(t)
	require.NoError(t, r.d.Start())
	r.fake.InjectConnected()
	r.fake.InjectSubAck("plc-1/status")
	r.fake.InjectSubAck("plc-1/alarms")
	r.fake.InjectMessage("plc-1/status", []byte("hello"))

	require.Eventually(t, func() bool {
		s, _ := r.d.LinkState("plc-1")
		return s == types.StateActive
	}, time.Second, time.Millisecond)

	_, err := r.d.SendEvent([]byte("v=1"), "plc-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, _ := r.d.LinkStats("plc-1")
		return stats.InFlight == 1
	}, time.Second, time.Millisecond)

	var ticket string
	require.Eventually(t, func() bool {
		if len(r.fake.Published) == 0 {
			return false
		}
		ticket = r.fake.Published[0].Ticket
		return true
	}, time.Second, time.Millisecond)

	r.fake.InjectPubAck(ticket)
	require.Eventually(t, func() bool {
		stats, _ := r.d.LinkStats("plc-1")
		return stats.InFlight == 0 && stats.UnackedBacklog == 0
	}, time.Second, time.Millisecond)
}

func TestDispatcherStateChangeSubscriberReceivesTransitions(t *testing.T) {
	r := newTestRig(t)
	changes := make(chan types.StateChange, 16)
	unsub, err := r.d.SubscribeStateChanges(func(sc types.StateChange) { changes <- sc })
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, r.d.Start())
	select {
	case sc := <-changes:
		require.Equal(t, types.StateConnecting, sc.To)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state change")
	}
}

func TestDispatcherHealthReportsUnhealthyUntilActive(t *testing.T) {
	r := newTestRig(t)
	require.NoError(t, r.d.Start())

	report, err := r.d.Health()
	require.NoError(t, err)
	require.False(t, report.Healthy)
	require.Len(t, report.Links, 1)
}

func TestDispatcherRejectsEmptyMessageWithoutAdvancingState(t *testing.T) {
	r := newTestRig(t)
	require.NoError(t, r.d.Start())
	r.fake.InjectConnected()
	r.fake.InjectSubAck("plc-1/status")
	r.fake.InjectSubAck("plc-1/alarms")
	require.Eventually(t, func() bool {
		s, _ := r.d.LinkState("plc-1")
		return s == types.StateAwaitingPeer
	}, time.Second, time.Millisecond)

	r.fake.InjectMessage("plc-1/status", nil)

	// Give the rejected message a chance to be (wrongly) applied, then
	// confirm the link is still waiting on a peer message.
	time.Sleep(20 * time.Millisecond)
	state, err := r.d.LinkState("plc-1")
	require.NoError(t, err)
	require.Equal(t, types.StateAwaitingPeer, state)
}

func TestDispatcherEnqueueTimesOutWhenQueueSaturated(t *testing.T) {
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	clk := clock.NewFake(time.Now())

	cfg := Config{
		Links:          nil,
		QueueDepth:     1,
		EnqueueTimeout: 10 * time.Millisecond,
		StopDeadline:   time.Second,
	}
	d := New(cfg, j, clk)
	// Do not start Run: nothing drains the ingress queue, so the first
	// enqueue fills the buffer and the second must time out.
	require.NoError(t, d.enqueue(wiHealth{resp: make(chan types.HealthReport, 1)}))
	err = d.enqueue(wiHealth{resp: make(chan types.HealthReport, 1)})
	require.Error(t, err)
}
