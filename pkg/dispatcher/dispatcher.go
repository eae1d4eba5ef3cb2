// Package dispatcher is the single-threaded cooperative loop that owns
// every link's state machine, the shared ack engine, and the journal
// (§4.5). External goroutines — transport callbacks, timers, façade
// calls — only ever enqueue tagged work items onto its ingress queue;
// all mutation happens on the dispatcher's own goroutine, by
// confinement rather than locking.
//
// Grounded on the teacher's pkg/events.Broker: a single run loop
// draining a buffered channel and fanning out to subscribers,
// generalized so the same loop also owns link/journal/ack-engine
// mutation, which the teacher's notification-only broker never needed.
package dispatcher

import (
	"context"
	"time"

	"github.com/cuemby/linkcore/pkg/ackengine"
	"github.com/cuemby/linkcore/pkg/appmsg"
	"github.com/cuemby/linkcore/pkg/clock"
	"github.com/cuemby/linkcore/pkg/coreerrors"
	"github.com/cuemby/linkcore/pkg/journal"
	"github.com/cuemby/linkcore/pkg/linkfsm"
	"github.com/cuemby/linkcore/pkg/metrics"
	"github.com/cuemby/linkcore/pkg/tracing"
	"github.com/cuemby/linkcore/pkg/transport"
	"github.com/cuemby/linkcore/pkg/types"
)

// AdapterFactory builds the transport adapter for one configured link.
// Production wiring returns a *transport.Paho; tests return a
// *transport.Fake.
type AdapterFactory func(types.LinkConfig) transport.Adapter

// Config is the subset of core configuration the dispatcher consumes
// directly; pkg/core narrows its own validated Config to this before
// calling New.
type Config struct {
	Links          []types.LinkConfig
	QueueDepth     int
	EnqueueTimeout time.Duration
	StopDeadline   time.Duration
	NewAdapter     AdapterFactory

	// ParseMessage validates inbound payloads before they are allowed
	// to drive PeerMessageReceived. Defaults to appmsg.Default, which
	// accepts any non-empty payload — production deployments with a
	// concrete application schema should supply their own.
	ParseMessage appmsg.Parser
}

type linkEntry struct {
	fsm              *linkfsm.Machine
	adapter          transport.Adapter
	reconnectTimer   clock.Timer
	peerSilenceTimer clock.Timer
}

// Dispatcher owns all mutable core state and runs it on one goroutine.
type Dispatcher struct {
	cfg Config
	clk clock.Clock

	ingress chan workItem

	j      journal.Journal
	engine *ackengine.Engine
	links  map[string]*linkEntry

	subs []types.StateChangeFunc

	stopped chan struct{} // closed once Stop is handled; signals producers to quit
	runDone chan struct{} // closed when Run returns
}

// New wires a Dispatcher around an already-open journal and a clock
// (production: clock.Real{}; tests: a clock.Fake). It does not start
// the loop; call Run in its own goroutine.
func New(cfg Config, j journal.Journal, clk clock.Clock) *Dispatcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 2 * time.Second
	}
	if cfg.StopDeadline <= 0 {
		cfg.StopDeadline = 5 * time.Second
	}
	if cfg.ParseMessage == nil {
		cfg.ParseMessage = appmsg.Default
	}
	d := &Dispatcher{
		cfg:     cfg,
		clk:     clk,
		ingress: make(chan workItem, cfg.QueueDepth),
		j:       j,
		links:   make(map[string]*linkEntry),
		stopped: make(chan struct{}),
		runDone: make(chan struct{}),
	}
	d.engine = ackengine.New(j, clk, d.ackTimeoutFromEngine)
	return d
}

// Run executes the dispatcher loop until Stop completes. It is
// intended to be called with `go d.Run()`.
func (d *Dispatcher) Run() {
	defer close(d.runDone)
	for _, lc := range d.cfg.Links {
		d.addLink(lc)
	}

	for item := range d.ingress {
		link, kind := describeWorkItem(item)
		_, span := tracing.StartWorkItem(context.Background(), link, kind)
		t := metrics.NewTimer()
		d.handle(item)
		t.ObserveDuration(metrics.DispatcherHandleDuration)
		span.End()
		metrics.DispatcherQueueDepth.Set(float64(len(d.ingress)))
		if _, isStop := item.(wiStop); isStop {
			return
		}
	}
}

func (d *Dispatcher) addLink(lc types.LinkConfig) {
	if lc.ReconnectBackoff == (types.Backoff{}) {
		lc.ReconnectBackoff = types.DefaultBackoff()
	}
	link := types.NewLink(lc)
	entry := &linkEntry{fsm: linkfsm.New(link)}
	if d.cfg.NewAdapter != nil {
		entry.adapter = d.cfg.NewAdapter(lc)
	}
	d.links[lc.Name] = entry
	d.engine.Register(lc.Name, entry.adapter, lc.EgressTopic, lc.MaxInFlight, lc.AckTimeout, lc.StrictAckBeforeActive)

	if entry.adapter != nil {
		go d.pumpAdapterEvents(lc.Name, entry.adapter)
	}
}

// pumpAdapterEvents forwards one link's adapter events onto the shared
// ingress queue, tagged with the link name; it performs no logic of
// its own. It exits once the dispatcher is stopped even if the
// adapter's event channel stays open.
func (d *Dispatcher) pumpAdapterEvents(link string, a transport.Adapter) {
	for {
		select {
		case ev, ok := <-a.Events():
			if !ok {
				return
			}
			d.enqueueInternal(wiTransportEvent{link: link, ev: ev})
		case <-d.stopped:
			return
		}
	}
}

// enqueueInternal is used by the dispatcher's own goroutines (adapter
// pumps, timers); it never applies a backpressure timeout because
// those callers cannot usefully retry. The ingress channel is never
// closed, so this never races a send against a close.
func (d *Dispatcher) enqueueInternal(item workItem) {
	select {
	case d.ingress <- item:
	case <-d.stopped:
	}
}

// enqueue is used by façade calls made from arbitrary application
// goroutines; it honors the configured enqueue timeout and returns
// ErrDispatcherBusy rather than blocking indefinitely (§4.5).
func (d *Dispatcher) enqueue(item workItem) error {
	timer := time.NewTimer(d.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case d.ingress <- item:
		return nil
	case <-timer.C:
		return coreerrors.ErrDispatcherBusy
	case <-d.stopped:
		return coreerrors.ErrNotStarted
	}
}

func (d *Dispatcher) handle(item workItem) {
	switch w := item.(type) {
	case wiTransportEvent:
		d.handleTransportEvent(w.link, w.ev)
	case wiAckTimeoutInternal:
		d.applyFSM(w.link, linkfsm.Input{Kind: linkfsm.AckTimeout})
		d.engine.DiscardAckTimeout(w.link, w.id)
	case wiPeerSilenceTimeout:
		d.applyFSM(w.link, linkfsm.Input{Kind: linkfsm.PeerSilenceTimeout})
	case wiReconnectFire:
		if entry, ok := d.links[w.link]; ok && entry.adapter != nil {
			entry.adapter.Connect()
		}
	case wiSendEvent:
		if _, ok := d.links[w.link]; !ok {
			w.resp <- sendEventResult{err: &coreerrors.UnknownLinkError{Link: w.link}}
			return
		}
		id, err := d.engine.SendEvent(w.payload, w.link)
		w.resp <- sendEventResult{id: id, err: err}
	case wiSubscribe:
		d.subs = append(d.subs, w.cb)
		idx := len(d.subs) - 1
		w.resp <- func() { d.enqueueInternal(wiUnsubscribe{idx: idx}) }
	case wiUnsubscribe:
		if w.idx >= 0 && w.idx < len(d.subs) {
			d.subs[w.idx] = nil
		}
	case wiLinkState:
		entry, ok := d.links[w.link]
		if !ok {
			w.resp <- linkStateResult{err: &coreerrors.UnknownLinkError{Link: w.link}}
			return
		}
		w.resp <- linkStateResult{state: entry.fsm.Link().State}
	case wiLinkStats:
		entry, ok := d.links[w.link]
		if !ok {
			w.resp <- linkStatsResult{err: &coreerrors.UnknownLinkError{Link: w.link}}
			return
		}
		w.resp <- linkStatsResult{stats: d.statsFor(w.link, entry)}
	case wiHealth:
		var report types.HealthReport
		report.Healthy = true
		for name, entry := range d.links {
			st := d.statsFor(name, entry)
			report.Links = append(report.Links, st)
			if !st.State.Active() {
				report.Healthy = false
			}
		}
		w.resp <- report
	case wiStart:
		for name, entry := range d.links {
			if entry.adapter != nil {
				entry.adapter.Connect()
			}
			d.applyFSM(name, linkfsm.Input{Kind: linkfsm.Start})
		}
	case wiStop:
		for name := range d.links {
			d.applyFSM(name, linkfsm.Input{Kind: linkfsm.Stop})
		}
		for _, entry := range d.links {
			if entry.adapter != nil {
				entry.adapter.Disconnect()
			}
		}
		close(d.stopped)
		close(w.done)
	}
}

func (d *Dispatcher) statsFor(name string, entry *linkEntry) types.Stats {
	link := entry.fsm.Link()
	return types.Stats{
		Link:             name,
		State:            link.State,
		InFlight:         d.engine.InFlightCount(name),
		UnackedBacklog:   d.engine.Backlog(name),
		LastPeerSeen:     link.LastPeerSeen,
		ReconnectAttempt: link.ReconnectAttempt,
	}
}

func (d *Dispatcher) handleTransportEvent(link string, ev transport.Event) {
	switch ev.Kind {
	case transport.Connected:
		d.applyFSM(link, linkfsm.Input{Kind: linkfsm.TransportConnected})
	case transport.ConnectFailed:
		d.applyFSM(link, linkfsm.Input{Kind: linkfsm.TransportConnectFailed, Err: ev.Reason})
	case transport.Disconnected:
		d.applyFSM(link, linkfsm.Input{Kind: linkfsm.TransportDisconnected, Err: ev.Reason})
	case transport.SubAcked:
		d.applyFSM(link, linkfsm.Input{Kind: linkfsm.SubAckReceived, Topic: ev.Topic})
	case transport.Message:
		if _, ok := d.cfg.ParseMessage(ev.Topic, ev.Payload); !ok {
			metrics.RejectedMessagesTotal.WithLabelValues(link).Inc()
			return
		}
		d.applyFSM(link, linkfsm.Input{Kind: linkfsm.PeerMessageReceived, Topic: ev.Topic})
		d.resetPeerSilenceTimer(link)
	case transport.PubAcked:
		d.engine.PubAck(ev.Ticket)
	}
}

// applyFSM runs one FSM transition for link and carries out every
// Effects field the FSM requested; it is the only place that calls
// into linkfsm.Machine.Apply.
func (d *Dispatcher) applyFSM(link string, in linkfsm.Input) {
	entry, ok := d.links[link]
	if !ok {
		return
	}
	eff := entry.fsm.Apply(in)

	if len(eff.SubscribeTopics) > 0 && entry.adapter != nil {
		for _, topic := range eff.SubscribeTopics {
			entry.adapter.Subscribe(topic)
		}
	}
	if eff.ScheduleReconnect > 0 {
		metrics.ReconnectAttemptsTotal.WithLabelValues(link).Inc()
		entry.reconnectTimer = d.clk.AfterFunc(eff.ScheduleReconnect, func() {
			d.enqueueInternal(wiReconnectFire{link: link})
		})
	}
	if eff.NotifyLinkActive {
		d.engine.LinkActive(link)
		d.resetPeerSilenceTimer(link)
	}
	if eff.NotifyLinkInactive {
		d.engine.LinkInactive(link)
		if entry.peerSilenceTimer != nil {
			entry.peerSilenceTimer.Stop()
		}
	}
	if eff.CancelInFlight {
		d.engine.LinkInactive(link)
		if entry.peerSilenceTimer != nil {
			entry.peerSilenceTimer.Stop()
		}
	}
	if eff.StateChange != nil {
		for _, sub := range d.subs {
			if sub != nil {
				sub(*eff.StateChange)
			}
		}
	}
}

func (d *Dispatcher) resetPeerSilenceTimer(link string) {
	entry, ok := d.links[link]
	if !ok {
		return
	}
	if entry.peerSilenceTimer != nil {
		entry.peerSilenceTimer.Stop()
	}
	timeout := entry.fsm.Link().Config.PeerSilenceTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	entry.peerSilenceTimer = d.clk.AfterFunc(timeout, func() {
		d.enqueueInternal(wiPeerSilenceTimeout{link: link})
	})
}

// ackTimeoutFromEngine is the ackengine.OnAckTimeout callback; it only
// ever enqueues, never mutates state directly, since it fires on the
// clock's own goroutine rather than the dispatcher's.
func (d *Dispatcher) ackTimeoutFromEngine(link string, id types.EventID) {
	d.enqueueInternal(wiAckTimeoutInternal{link: link, id: id})
}

// --- façade-facing methods, safe to call from any goroutine ---

func (d *Dispatcher) Start() error {
	return d.enqueue(wiStart{})
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	done := make(chan struct{})
	if err := d.enqueue(wiStop{done: done}); err != nil {
		return err
	}
	deadline := time.NewTimer(d.cfg.StopDeadline)
	defer deadline.Stop()
	select {
	case <-done:
		<-d.runDone
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline.C:
		<-d.runDone
		return nil
	}
}

func (d *Dispatcher) SendEvent(payload []byte, link string) (types.EventID, error) {
	resp := make(chan sendEventResult, 1)
	if err := d.enqueue(wiSendEvent{link: link, payload: payload, resp: resp}); err != nil {
		return 0, err
	}
	r := <-resp
	return r.id, r.err
}

func (d *Dispatcher) SubscribeStateChanges(cb types.StateChangeFunc) (types.Unsubscribe, error) {
	resp := make(chan func(), 1)
	if err := d.enqueue(wiSubscribe{cb: cb, resp: resp}); err != nil {
		return nil, err
	}
	unsub := <-resp
	return types.Unsubscribe(unsub), nil
}

func (d *Dispatcher) LinkState(link string) (types.State, error) {
	resp := make(chan linkStateResult, 1)
	if err := d.enqueue(wiLinkState{link: link, resp: resp}); err != nil {
		return "", err
	}
	r := <-resp
	return r.state, r.err
}

func (d *Dispatcher) LinkStats(link string) (types.Stats, error) {
	resp := make(chan linkStatsResult, 1)
	if err := d.enqueue(wiLinkStats{link: link, resp: resp}); err != nil {
		return types.Stats{}, err
	}
	r := <-resp
	return r.stats, r.err
}

func (d *Dispatcher) Health() (types.HealthReport, error) {
	resp := make(chan types.HealthReport, 1)
	if err := d.enqueue(wiHealth{resp: resp}); err != nil {
		return types.HealthReport{}, err
	}
	return <-resp, nil
}
