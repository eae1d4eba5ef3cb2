// Package appmsg is the seam between raw inbound transport payloads
// and the link state machine (§6: "to the application message
// parser"). A PeerMessageReceived input is only ever fed to a link's
// FSM once its payload has passed through a Parser and come back
// well-formed; everything else — malformed bodies, traffic on a topic
// the application doesn't expect a peer on — is dropped before it ever
// reaches linkfsm.
package appmsg

// Message is a parsed, validated application message. Concrete field
// schemas are out of scope for this core; callers that need more than
// topic and raw payload wrap Parser with their own decoding.
type Message struct {
	Topic   string
	Payload []byte
}

// Parser validates a raw inbound payload received on topic and
// reports whether it is a well-formed application message from the
// expected peer. Implementations must return ok=false for malformed or
// unrelated traffic rather than erroring; a parser has no side channel
// back to the caller beyond this boolean.
type Parser func(topic string, payload []byte) (msg Message, ok bool)

// Default accepts any non-empty payload as well-formed. It exists so
// the dispatcher has a working parser with no application schema
// wired in; a real deployment supplies its own Parser that decodes the
// application's actual message format and checks its sender field
// against the expected peer.
func Default(topic string, payload []byte) (Message, bool) {
	if len(payload) == 0 {
		return Message{}, false
	}
	return Message{Topic: topic, Payload: payload}, true
}
