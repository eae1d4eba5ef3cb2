// Package ackengine tracks outbound events from journal append through
// publish to acknowledgement (§4.4): bounded in-flight concurrency per
// link, per-event ack timeouts, and replay of the journaled backlog
// whenever a link re-enters Active. Like linkfsm, it is confined to
// the dispatcher goroutine.
package ackengine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cuemby/linkcore/pkg/clock"
	"github.com/cuemby/linkcore/pkg/journal"
	"github.com/cuemby/linkcore/pkg/log"
	"github.com/cuemby/linkcore/pkg/metrics"
	"github.com/cuemby/linkcore/pkg/tracing"
	"github.com/cuemby/linkcore/pkg/transport"
	"github.com/cuemby/linkcore/pkg/types"
)

// OnAckTimeout is invoked when a publish goes unacknowledged past its
// deadline while the link is still Active; the dispatcher feeds this
// back into the link FSM as an AckTimeout input.
type OnAckTimeout func(link string, id types.EventID)

// linkState is the engine's bookkeeping for one link.
type linkState struct {
	adapter     transport.Adapter
	egressTopic string
	active      bool
	maxInFlight int
	ackTimeout  time.Duration
	strict      bool
	inFlight    map[types.EventID]*types.InFlight
	timers      map[types.EventID]clock.Timer
	ticketToID  map[string]types.EventID
	spans       map[types.EventID]trace.Span
}

// Engine is the ack/retransmit engine for one core instance, shared
// across all configured links. Each link keeps its own transport
// adapter, since each link is an independent peer connection.
type Engine struct {
	j         journal.Journal
	clk       clock.Clock
	onTimeout OnAckTimeout

	links map[string]*linkState
}

// New creates an Engine. onTimeout is called synchronously from
// whichever goroutine the underlying clock fires timers on; production
// callers funnel it back through the dispatcher's ingress queue rather
// than mutating FSM state directly.
func New(j journal.Journal, clk clock.Clock, onTimeout OnAckTimeout) *Engine {
	return &Engine{
		j:         j,
		clk:       clk,
		onTimeout: onTimeout,
		links:     make(map[string]*linkState),
	}
}

// Register declares a link's configuration and transport adapter
// before it is ever seen in LinkActive. A link that was never
// registered gets a default entry on first use, with no adapter, so
// nothing is ever published for it.
func (e *Engine) Register(link string, adapter transport.Adapter, egressTopic string, maxInFlight int, ackTimeout time.Duration, strict bool) {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	if egressTopic == "" {
		egressTopic = link
	}
	e.links[link] = &linkState{
		adapter:     adapter,
		egressTopic: egressTopic,
		maxInFlight: maxInFlight,
		ackTimeout:  ackTimeout,
		strict:      strict,
		inFlight:    make(map[types.EventID]*types.InFlight),
		timers:      make(map[types.EventID]clock.Timer),
		ticketToID:  make(map[string]types.EventID),
		spans:       make(map[types.EventID]trace.Span),
	}
}

func (e *Engine) stateFor(link string) *linkState {
	ls, ok := e.links[link]
	if !ok {
		ls = &linkState{
			maxInFlight: 8,
			inFlight:    make(map[types.EventID]*types.InFlight),
			timers:      make(map[types.EventID]clock.Timer),
			ticketToID:  make(map[string]types.EventID),
			spans:       make(map[types.EventID]trace.Span),
		}
		e.links[link] = ls
	}
	return ls
}

// LinkActive replays the journaled backlog for link up to its
// in-flight budget (§4.4: "iterate journal unacked events ... issuing
// publishes to the transport up to a configured max_in_flight").
func (e *Engine) LinkActive(link string) {
	ls := e.stateFor(link)
	ls.active = true
	e.fillBudget(link, ls)
}

// LinkInactive discards any InFlight bookkeeping for link. By default
// the events themselves remain journaled and are retried on the next
// LinkActive (§4.4: "leave the InFlight intact until the link leaves
// Active, at which point discard it"). If the link was registered with
// StrictAckBeforeActive, each discarded publish is instead failed
// outright: removed from the journal and counted, rather than left for
// a silent retry.
func (e *Engine) LinkInactive(link string) {
	ls := e.stateFor(link)
	ls.active = false
	for id, t := range ls.timers {
		t.Stop()
		delete(ls.timers, id)
	}
	for ticket := range ls.ticketToID {
		delete(ls.ticketToID, ticket)
	}
	for id, span := range ls.spans {
		tracing.EndPublish(span, errLinkDeactivated)
		delete(ls.spans, id)
	}
	if ls.strict {
		for id := range ls.inFlight {
			if err := e.j.Remove(id); err != nil {
				log.WithEventID(uint64(id)).Warn().Err(err).Msg("journal remove for strict ack-before-active failure failed")
			}
			metrics.FailedPublishesTotal.WithLabelValues(link).Inc()
		}
	}
	ls.inFlight = make(map[types.EventID]*types.InFlight)
	metrics.InFlightPublications.WithLabelValues(link).Set(0)
	metrics.JournalUnacked.WithLabelValues(link).Set(float64(e.Backlog(link)))
}

// SendEvent journals payload durably, then immediately publishes it if
// the link is Active and has in-flight budget (§4.4: "append to
// journal synchronously, then if the link is Active and in-flight
// budget available, publish immediately; else it waits").
func (e *Engine) SendEvent(payload []byte, link string) (types.EventID, error) {
	id, err := e.j.Append(payload, link)
	if err != nil {
		return 0, err
	}
	metrics.EventsAppendedTotal.Inc()

	ls := e.stateFor(link)
	if ls.active && len(ls.inFlight) < ls.maxInFlight {
		e.publish(link, ls, types.Event{ID: id, Payload: payload, TargetLink: link, CreatedAt: time.Now()})
	}
	metrics.JournalUnacked.WithLabelValues(link).Set(float64(e.Backlog(link)))
	return id, nil
}

// PubAck resolves the InFlight for the given publish ticket: removes
// it from the journal and the in-flight set, cancels its timeout
// timer, and tops the backlog back up to the in-flight budget.
func (e *Engine) PubAck(ticket string) {
	for link, ls := range e.links {
		id, ok := ls.ticketToID[ticket]
		if !ok {
			continue
		}
		delete(ls.ticketToID, ticket)
		inf := ls.inFlight[id]
		delete(ls.inFlight, id)
		if t, ok := ls.timers[id]; ok {
			t.Stop()
			delete(ls.timers, id)
		}
		if inf != nil {
			metrics.AckLatency.WithLabelValues(link).Observe(time.Since(inf.SentAt).Seconds())
		}
		if span, ok := ls.spans[id]; ok {
			tracing.EndPublish(span, nil)
			delete(ls.spans, id)
		}
		if err := e.j.Remove(id); err != nil {
			log.WithEventID(uint64(id)).Warn().Err(err).Msg("journal remove after ack failed")
		}
		metrics.InFlightPublications.WithLabelValues(link).Set(float64(len(ls.inFlight)))
		metrics.JournalUnacked.WithLabelValues(link).Set(float64(e.Backlog(link)))
		e.fillBudget(link, ls)
		return
	}
}

// DiscardAckTimeout is called by the dispatcher after it has fed the
// timeout into the link FSM, to drop the bookkeeping for an InFlight
// entry that is no longer tracked against a live timer (it has
// already fired).
func (e *Engine) DiscardAckTimeout(link string, id types.EventID) {
	ls := e.stateFor(link)
	if inf, ok := ls.inFlight[id]; ok {
		delete(ls.ticketToID, inf.PublishTicket)
	}
	delete(ls.inFlight, id)
	delete(ls.timers, id)
	if span, ok := ls.spans[id]; ok {
		tracing.EndPublish(span, errAckTimedOut)
		delete(ls.spans, id)
	}
	metrics.AckTimeoutsTotal.WithLabelValues(link).Inc()
	metrics.InFlightPublications.WithLabelValues(link).Set(float64(len(ls.inFlight)))
}

// Backlog returns the number of unacked events targeting link still in
// the journal (including ones currently in flight).
func (e *Engine) Backlog(link string) int {
	n := 0
	e.j.IterUnacked(func(ev types.Event) error {
		if ev.TargetLink == link {
			n++
		}
		return nil
	})
	return n
}

// InFlightCount returns the number of publications currently awaiting
// a PubAck for link.
func (e *Engine) InFlightCount(link string) int {
	return len(e.stateFor(link).inFlight)
}

func (e *Engine) fillBudget(link string, ls *linkState) {
	if !ls.active {
		return
	}
	budget := ls.maxInFlight - len(ls.inFlight)
	if budget <= 0 {
		return
	}
	var toPublish []types.Event
	e.j.IterUnacked(func(ev types.Event) error {
		if len(toPublish) >= budget {
			return errStopIteration
		}
		if ev.TargetLink != link {
			return nil
		}
		if _, already := ls.inFlight[ev.ID]; already {
			return nil
		}
		toPublish = append(toPublish, ev)
		return nil
	})
	for _, ev := range toPublish {
		e.publish(link, ls, ev)
	}
}

var (
	errStopIteration   = errors.New("ackengine: stop iteration")
	errLinkDeactivated = errors.New("ackengine: link deactivated before ack")
	errAckTimedOut     = errors.New("ackengine: ack timed out")
)

func (e *Engine) publish(link string, ls *linkState, ev types.Event) {
	if ls.adapter == nil {
		return
	}
	_, span := tracing.StartPublish(context.Background(), link, uint64(ev.ID))
	ls.spans[ev.ID] = span

	ticket := ls.adapter.Publish(ls.egressTopic, ev.Payload)
	now := e.clk.Now()
	inf := &types.InFlight{EventID: ev.ID, PublishTicket: ticket, SentAt: now, Link: link}
	ls.inFlight[ev.ID] = inf
	ls.ticketToID[ticket] = ev.ID
	id := ev.ID
	ls.timers[ev.ID] = e.clk.AfterFunc(ls.ackTimeout, func() {
		if e.onTimeout != nil {
			e.onTimeout(link, id)
		}
	})
	metrics.InFlightPublications.WithLabelValues(link).Set(float64(len(ls.inFlight)))
}
