package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fake is an in-memory Adapter for deterministic unit tests of the
// link FSM and ack engine. Tests drive it by calling the inject
// methods; Subscribe/Publish calls are recorded for assertions.
type Fake struct {
	mu sync.Mutex

	events chan Event

	Subscribed []string
	Published  []FakePublish

	connectCalls    int
	disconnectCalls int
}

// FakePublish records one Publish call for test assertions.
type FakePublish struct {
	Topic   string
	Payload []byte
	Ticket  string
}

// NewFake creates a Fake adapter with a reasonably sized event buffer.
func NewFake() *Fake {
	return &Fake{events: make(chan Event, 256)}
}

func (f *Fake) Connect() {
	f.mu.Lock()
	f.connectCalls++
	f.mu.Unlock()
}

func (f *Fake) Disconnect() {
	f.mu.Lock()
	f.disconnectCalls++
	f.mu.Unlock()
}

func (f *Fake) Subscribe(topic string) string {
	ticket := uuid.NewString()
	f.mu.Lock()
	f.Subscribed = append(f.Subscribed, topic)
	f.mu.Unlock()
	return ticket
}

func (f *Fake) Publish(topic string, payload []byte) string {
	ticket := uuid.NewString()
	f.mu.Lock()
	f.Published = append(f.Published, FakePublish{Topic: topic, Payload: payload, Ticket: ticket})
	f.mu.Unlock()
	return ticket
}

func (f *Fake) Events() <-chan Event { return f.events }

// Inject pushes an Event as if the broker produced it. It blocks if
// the test's consumer has not drained the channel; the production Paho
// adapter instead drops an event when its channel is full.
func (f *Fake) Inject(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	f.events <- e
}

func (f *Fake) InjectConnected() { f.Inject(Event{Kind: Connected}) }

func (f *Fake) InjectConnectFailed(reason error) {
	f.Inject(Event{Kind: ConnectFailed, Reason: reason})
}

func (f *Fake) InjectDisconnected(reason error) {
	f.Inject(Event{Kind: Disconnected, Reason: reason})
}

func (f *Fake) InjectSubAck(topic string) {
	f.Inject(Event{Kind: SubAcked, Topic: topic})
}

func (f *Fake) InjectMessage(topic string, payload []byte) {
	f.Inject(Event{Kind: Message, Topic: topic, Payload: payload})
}

func (f *Fake) InjectPubAck(ticket string) {
	f.Inject(Event{Kind: PubAcked, Ticket: ticket})
}
