// Package linkfsm implements the per-link communication-state machine
// (§4.3): the exact transition table between NotStarted, Connecting,
// AwaitingSetupAndPeer, AwaitingSetup, AwaitingPeer, Active and
// Stopped. It is confined to the dispatcher goroutine; Apply is not
// safe to call concurrently, matching the rest of the core's
// thread-confinement model rather than internal locking.
package linkfsm

import (
	"time"

	"github.com/cuemby/linkcore/pkg/log"
	"github.com/cuemby/linkcore/pkg/metrics"
	"github.com/cuemby/linkcore/pkg/types"
)

// InputKind identifies which transition input Apply is handling.
type InputKind int

const (
	Start InputKind = iota
	Stop
	TransportConnected
	TransportDisconnected
	TransportConnectFailed
	SubAckReceived
	PeerMessageReceived
	AckTimeout
	PeerSilenceTimeout
)

// Input is one event consumed by the FSM for a single link.
type Input struct {
	Kind  InputKind
	Topic string // SubAckReceived, PeerMessageReceived
	Err   error  // TransportDisconnected, TransportConnectFailed
}

// Effects are side effects the FSM wants performed after Apply
// returns, reported back to the dispatcher rather than executed
// directly — the FSM itself never touches the transport, journal, or
// ack engine.
type Effects struct {
	SubscribeTopics    []string
	ScheduleReconnect  time.Duration
	NotifyLinkActive   bool
	NotifyLinkInactive bool
	CancelInFlight     bool
	StateChange        *types.StateChange
}

// Machine holds the live Link record and applies transitions to it.
type Machine struct {
	link *types.Link
}

// New wraps a Link record, previously constructed with types.NewLink.
func New(link *types.Link) *Machine {
	return &Machine{link: link}
}

// Link returns the underlying record for read-only inspection.
func (m *Machine) Link() *types.Link { return m.link }

// Apply consumes one Input and returns the Effects the dispatcher must
// carry out. It never blocks and never returns an error: inputs that
// don't apply to the current state are silently ignored, matching the
// transition table's "any other input: no-op" default.
func (m *Machine) Apply(in Input) Effects {
	from := m.link.State
	var eff Effects

	if in.Kind == Stop {
		return m.transition(from, types.StateStopped, types.ReasonStopped, eff)
	}

	switch from {
	case types.StateNotStarted:
		if in.Kind == Start {
			m.link.ReconnectAttempt = 0
			return m.transition(from, types.StateConnecting, types.ReasonStarted, eff)
		}

	case types.StateConnecting:
		switch in.Kind {
		case TransportConnectFailed:
			m.link.ReconnectAttempt++
			eff.ScheduleReconnect = m.link.Config.ReconnectBackoff.Next(m.link.ReconnectAttempt)
			return m.transition(from, types.StateConnecting, types.ReasonTransportConnectFailed, eff)
		case TransportConnected:
			m.link.ReconnectAttempt = 0
			m.resetSubs()
			eff.SubscribeTopics = m.link.Config.IngressTopics
			return m.transition(from, types.StateAwaitingSetupAndPeer, types.ReasonTransportConnected, eff)
		}

	case types.StateAwaitingSetupAndPeer:
		switch in.Kind {
		case SubAckReceived:
			m.ackSub(in.Topic)
			if len(m.link.PendingSubs) == 0 {
				return m.transition(from, types.StateAwaitingPeer, types.ReasonAllSubsAcked, eff)
			}
			return eff
		case PeerMessageReceived:
			m.link.LastPeerSeen = time.Now()
			return m.transition(from, types.StateAwaitingSetup, types.ReasonPeerMessage, eff)
		case TransportDisconnected:
			return m.toConnecting(from, eff)
		}

	case types.StateAwaitingSetup:
		switch in.Kind {
		case SubAckReceived:
			m.ackSub(in.Topic)
			if len(m.link.PendingSubs) == 0 {
				eff.NotifyLinkActive = true
				return m.transition(from, types.StateActive, types.ReasonAllSubsAcked, eff)
			}
			return eff
		case TransportDisconnected:
			return m.toConnecting(from, eff)
		}

	case types.StateAwaitingPeer:
		switch in.Kind {
		case PeerMessageReceived:
			m.link.LastPeerSeen = time.Now()
			eff.NotifyLinkActive = true
			return m.transition(from, types.StateActive, types.ReasonPeerMessage, eff)
		case TransportDisconnected:
			return m.toConnecting(from, eff)
		}

	case types.StateActive:
		switch in.Kind {
		case PeerMessageReceived:
			m.link.LastPeerSeen = time.Now()
			return eff
		case AckTimeout:
			eff.NotifyLinkInactive = true
			return m.transition(from, types.StateAwaitingPeer, types.ReasonAckTimeout, eff)
		case PeerSilenceTimeout:
			eff.NotifyLinkInactive = true
			return m.transition(from, types.StateAwaitingPeer, types.ReasonPeerSilence, eff)
		case TransportDisconnected:
			eff.NotifyLinkInactive = true
			return m.toConnecting(from, eff)
		}
	}

	return eff
}

func (m *Machine) toConnecting(from types.State, eff Effects) Effects {
	m.resetSubs()
	eff.CancelInFlight = true
	return m.transition(from, types.StateConnecting, types.ReasonTransportDisconnected, eff)
}

func (m *Machine) resetSubs() {
	pending := make(map[string]struct{}, len(m.link.Config.IngressTopics))
	for _, t := range m.link.Config.IngressTopics {
		pending[t] = struct{}{}
	}
	m.link.PendingSubs = pending
	m.link.AckedSubs = make(map[string]struct{})
	m.link.LastPeerSeen = time.Time{}
}

func (m *Machine) ackSub(topic string) {
	delete(m.link.PendingSubs, topic)
	m.link.AckedSubs[topic] = struct{}{}
}

func (m *Machine) transition(from, to types.State, reason types.Reason, eff Effects) Effects {
	m.link.State = to
	now := time.Now()
	eff.StateChange = &types.StateChange{
		Link:   m.link.Config.Name,
		From:   from,
		To:     to,
		Reason: reason,
		At:     now,
	}

	metrics.LinkState.WithLabelValues(m.link.Config.Name).Set(stateValue(to))
	metrics.LinkTransitionsTotal.WithLabelValues(m.link.Config.Name, string(from), string(to)).Inc()
	log.WithLink(m.link.Config.Name).Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", string(reason)).
		Msg("link state transition")

	return eff
}

func stateValue(s types.State) float64 {
	if s.Active() {
		return 1
	}
	return 0
}
