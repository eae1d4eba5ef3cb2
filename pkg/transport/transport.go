// Package transport is the thin seam over an MQTT-style pub/sub client
// described in §4.1 of the spec. It normalises an underlying client's
// callbacks into a single ordered sequence of Event values the
// dispatcher consumes, and never retries connects itself — reconnect
// policy belongs to the link FSM (pkg/linkfsm).
//
// Adapter is a capability set, not an inheritance hierarchy (§9 design
// note): Fake and the production Paho-backed adapter are independent
// concrete types satisfying the same interface, following the pattern
// of the teacher's pkg/storage.Store interface with BoltStore as its
// one production implementation.
package transport

import "time"

// Kind identifies which transport-level occurrence an Event carries.
type Kind int

const (
	Connected Kind = iota
	Disconnected
	ConnectFailed
	SubAcked
	Message
	PubAcked
)

// Event is the normalised, dispatcher-facing representation of
// everything the transport can report asynchronously.
type Event struct {
	Kind Kind
	At   time.Time

	// Topic is set for SubAcked and Message.
	Topic string
	// Payload is set for Message.
	Payload []byte
	// Ticket is the correlation token returned by the Publish or
	// Subscribe call that produced this event; set for PubAcked, and for
	// SubAcked when the Paho adapter reports it.
	Ticket string
	// Reason is set for Disconnected and ConnectFailed.
	Reason error
}

// Adapter is the capability set a production or test transport must
// provide. Subscribe and Publish return a ticket immediately; the
// corresponding SubAcked/PubAcked Event arrives later on Events().
// QoS is always at-least-once, per §4.1 ("Publish QoS must be
// at-least-once so the broker generates a PubAck").
type Adapter interface {
	// Connect starts (or restarts) the connection attempt. It does not
	// block; outcome arrives as a Connected or ConnectFailed Event.
	Connect()
	// Disconnect requests a graceful disconnect. It takes no context;
	// Paho bounds the wait with its own five-second timeout.
	Disconnect()
	// Subscribe requests a subscription to topic, returning the ticket
	// that will tag the eventual SubAcked event.
	Subscribe(topic string) (ticket string)
	// Publish requests delivery of payload to topic, returning the
	// ticket that will tag the eventual PubAcked event.
	Publish(topic string, payload []byte) (ticket string)
	// Events returns the channel of normalised transport occurrences.
	// It is never closed while the adapter is connected.
	Events() <-chan Event
}
