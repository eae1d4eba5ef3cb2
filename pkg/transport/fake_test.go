package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeRecordsSubscribeAndPublish(t *testing.T) {
	f := NewFake()

	subTicket := f.Subscribe("links/a/setup")
	require.NotEmpty(t, subTicket)
	require.Equal(t, []string{"links/a/setup"}, f.Subscribed)

	pubTicket := f.Publish("links/a/data", []byte("payload"))
	require.NotEmpty(t, pubTicket)
	require.Len(t, f.Published, 1)
	require.Equal(t, "links/a/data", f.Published[0].Topic)
	require.Equal(t, pubTicket, f.Published[0].Ticket)
}

func TestFakeInjectDeliversOnEventsChannel(t *testing.T) {
	f := NewFake()

	f.InjectConnected()
	f.InjectSubAck("links/a/setup")
	f.InjectMessage("links/a/data", []byte("hello"))

	ev := <-f.Events()
	require.Equal(t, Connected, ev.Kind)
	require.False(t, ev.At.IsZero())

	ev = <-f.Events()
	require.Equal(t, SubAcked, ev.Kind)
	require.Equal(t, "links/a/setup", ev.Topic)

	ev = <-f.Events()
	require.Equal(t, Message, ev.Kind)
	require.Equal(t, []byte("hello"), ev.Payload)
}

func TestFakeInjectConnectFailedCarriesReason(t *testing.T) {
	f := NewFake()
	f.InjectConnectFailed(errTestBoom)

	ev := <-f.Events()
	require.Equal(t, ConnectFailed, ev.Kind)
	require.ErrorIs(t, ev.Reason, errTestBoom)
}
