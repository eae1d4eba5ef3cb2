package dispatcher

import (
	"github.com/cuemby/linkcore/pkg/transport"
	"github.com/cuemby/linkcore/pkg/types"
)

// workItem is the tagged union of everything that can arrive on the
// dispatcher's ingress queue. It has no methods; dispatcher.handle
// switches on the concrete type.
type workItem interface{}

type wiStart struct{}

type wiStop struct {
	done chan struct{}
}

type wiTransportEvent struct {
	link string
	ev   transport.Event
}

type wiAckTimeoutInternal struct {
	link string
	id   types.EventID
}

type wiPeerSilenceTimeout struct {
	link string
}

type wiReconnectFire struct {
	link string
}

type wiSendEvent struct {
	link    string
	payload []byte
	resp    chan sendEventResult
}

type sendEventResult struct {
	id  types.EventID
	err error
}

type wiSubscribe struct {
	cb   types.StateChangeFunc
	resp chan func()
}

type wiUnsubscribe struct {
	idx int
}

type wiLinkState struct {
	link string
	resp chan linkStateResult
}

type linkStateResult struct {
	state types.State
	err   error
}

type wiLinkStats struct {
	link string
	resp chan linkStatsResult
}

type linkStatsResult struct {
	stats types.Stats
	err   error
}

type wiHealth struct {
	resp chan types.HealthReport
}

// describeWorkItem labels item for tracing: the link it concerns (or
// "" for link-agnostic items) and a short kind name matching the
// concrete work item type.
func describeWorkItem(item workItem) (link, kind string) {
	switch w := item.(type) {
	case wiStart:
		return "", "start"
	case wiStop:
		return "", "stop"
	case wiTransportEvent:
		return w.link, "transport_event"
	case wiAckTimeoutInternal:
		return w.link, "ack_timeout"
	case wiPeerSilenceTimeout:
		return w.link, "peer_silence_timeout"
	case wiReconnectFire:
		return w.link, "reconnect_fire"
	case wiSendEvent:
		return w.link, "send_event"
	case wiSubscribe:
		return "", "subscribe"
	case wiUnsubscribe:
		return "", "unsubscribe"
	case wiLinkState:
		return w.link, "link_state"
	case wiLinkStats:
		return w.link, "link_stats"
	case wiHealth:
		return "", "health"
	default:
		return "", "unknown"
	}
}
