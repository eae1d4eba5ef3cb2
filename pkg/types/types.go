// Package types defines the core data structures shared across linkcore:
// links, events, in-flight publications, and the notifications the
// dispatcher fans out to subscribers. These types carry no behavior of
// their own beyond small invariant-preserving constructors — state
// transitions live in pkg/linkfsm and pkg/ackengine.
package types

import "time"

// State is a link's communication state. Only StateActive is "active";
// every other value means the application should treat the link as
// not currently able to carry traffic reliably.
type State string

const (
	StateNotStarted           State = "not_started"
	StateConnecting           State = "connecting"
	StateAwaitingSetupAndPeer State = "awaiting_setup_and_peer"
	StateAwaitingSetup        State = "awaiting_setup"
	StateAwaitingPeer         State = "awaiting_peer"
	StateActive               State = "active"
	StateStopped              State = "stopped"
)

// Active reports whether s is the single "communication is healthy" state.
func (s State) Active() bool {
	return s == StateActive
}

// Reason identifies why a StateChange occurred, matching the schema in
// the state-change event contract so external monitors can switch on it.
type Reason string

const (
	ReasonStarted                Reason = "started"
	ReasonTransportConnectFailed Reason = "transport_connect_failed"
	ReasonTransportConnected     Reason = "transport_connected"
	ReasonAllSubsAcked           Reason = "all_subs_acked"
	ReasonPeerMessage            Reason = "peer_message"
	ReasonAckTimeout             Reason = "ack_timeout"
	ReasonPeerSilence            Reason = "peer_silence"
	ReasonTransportDisconnected  Reason = "transport_disconnected"
	ReasonStopped                Reason = "stopped"
)

// Backoff describes an exponential reconnect schedule: the delay before
// attempt n is min(Floor * Multiplier^(n-1), Cap).
type Backoff struct {
	Floor      time.Duration
	Cap        time.Duration
	Multiplier float64
}

// DefaultBackoff matches the distilled spec's default reconnect schedule.
func DefaultBackoff() Backoff {
	return Backoff{Floor: time.Second, Cap: 60 * time.Second, Multiplier: 2}
}

// Next returns the delay before the attempt-th reconnect (attempt is
// 1-indexed: the first retry after a failure is attempt 1).
func (b Backoff) Next(attempt int) time.Duration {
	if b.Multiplier <= 1 {
		b.Multiplier = 2
	}
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Floor)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
		if time.Duration(d) >= b.Cap {
			return b.Cap
		}
	}
	if time.Duration(d) > b.Cap {
		return b.Cap
	}
	return time.Duration(d)
}

// LinkConfig is the static configuration of one link, loaded from
// pkg/config and validated by config.Load and core.New.
type LinkConfig struct {
	Name               string        `yaml:"name"`
	IngressTopics      []string      `yaml:"ingress_topics"`
	EgressTopic        string        `yaml:"egress_topic"`
	PeerSilenceTimeout time.Duration `yaml:"peer_silence_timeout"`
	AckTimeout         time.Duration `yaml:"ack_timeout"`
	MaxInFlight        int           `yaml:"max_in_flight"`
	ReconnectBackoff   Backoff       `yaml:"-"`

	// Broker connection parameters for this link's own transport
	// adapter instance (§4.1: each link owns an independent peer
	// connection). TLS provisioning itself stays out of scope. UseTLS
	// is loaded from configuration but not consulted: the default
	// adapter factory in pkg/core gives the Paho adapter no TLS
	// configuration.
	ServerURL string        `yaml:"server_url"`
	ClientID  string        `yaml:"client_id"`
	KeepAlive time.Duration `yaml:"keep_alive"`
	UseTLS    bool          `yaml:"use_tls"`

	// StrictAckBeforeActive, when true, fails pending publishes
	// outright (removes them from the journal and counts them as
	// failures) the moment a link leaves Active with unacked
	// publishes in flight, instead of the default of leaving them
	// journaled to be silently retried the next time the link
	// reaches Active.
	StrictAckBeforeActive bool `yaml:"strict_ack_before_active"`
}

// Link is the live record the link FSM owns. It is never shared outside
// the dispatcher goroutine; callers observe it only through snapshots
// (Stats) or StateChange notifications.
type Link struct {
	Config LinkConfig

	State        State
	PendingSubs  map[string]struct{}
	AckedSubs    map[string]struct{}
	LastPeerSeen time.Time

	ReconnectAttempt int
}

// NewLink creates a link in StateNotStarted with its pending-subs set
// seeded from the configured ingress topics, matching the invariant
// pending_subs ∪ acked_subs = configured_topics.
func NewLink(cfg LinkConfig) *Link {
	pending := make(map[string]struct{}, len(cfg.IngressTopics))
	for _, t := range cfg.IngressTopics {
		pending[t] = struct{}{}
	}
	return &Link{
		Config:      cfg,
		State:       StateNotStarted,
		PendingSubs: pending,
		AckedSubs:   make(map[string]struct{}),
	}
}

// EventID is the monotonically assigned, journal-persisted identifier
// of a locally produced Event.
type EventID uint64

// Event is an application-opaque record requiring reliable delivery to
// a peer. The core never drops an Event except by acknowledgement.
type Event struct {
	ID         EventID
	CreatedAt  time.Time
	Payload    []byte
	TargetLink string
}

// InFlight tracks a single outstanding publication of an Event. At most
// one InFlight exists per EventID at any time.
type InFlight struct {
	EventID       EventID
	PublishTicket string
	SentAt        time.Time
	Link          string
}

// StateChange is delivered in transition order, at-least-once, to every
// subscriber registered via Core.SubscribeStateChanges.
type StateChange struct {
	Link   string
	From   State
	To     State
	Reason Reason
	At     time.Time
}

// Stats is the snapshot returned by Core.LinkStats.
type Stats struct {
	Link             string
	State            State
	InFlight         int
	UnackedBacklog   int
	LastPeerSeen     time.Time
	ReconnectAttempt int
}

// HealthReport is the aggregate snapshot returned by Core.Health, used
// by both the CLI's link-status command and the HTTP health endpoint.
type HealthReport struct {
	Healthy bool
	Links   []Stats
}

// StateChangeFunc is invoked synchronously, in registration order, on
// the dispatcher thread for every StateChange.
type StateChangeFunc func(StateChange)

// Unsubscribe cancels a prior SubscribeStateChanges registration.
type Unsubscribe func()
