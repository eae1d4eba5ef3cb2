// Package core is the public façade of linkcore: it wires the journal,
// the command audit trail, and the dispatcher (which in turn owns the
// link FSMs, the ack engine, and one transport adapter per link) into
// a single object an application embeds.
//
// Grounded on the teacher's pkg/manager.Manager: a constructor that
// opens durable storage and assembles subcomponents, plus façade
// methods that forward to whichever subsystem owns the behavior. This
// core has no Raft group, so there is no Bootstrap/Join step — Start
// simply puts every configured link into motion.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/linkcore/pkg/appmsg"
	"github.com/cuemby/linkcore/pkg/audit"
	"github.com/cuemby/linkcore/pkg/clock"
	"github.com/cuemby/linkcore/pkg/coreerrors"
	"github.com/cuemby/linkcore/pkg/dispatcher"
	"github.com/cuemby/linkcore/pkg/journal"
	"github.com/cuemby/linkcore/pkg/log"
	"github.com/cuemby/linkcore/pkg/transport"
	"github.com/cuemby/linkcore/pkg/types"
)

// Config is the fully resolved, validated configuration a Core is
// built from. pkg/config loads this from YAML plus environment
// overrides; tests construct it directly.
type Config struct {
	Links                    []types.LinkConfig
	JournalDir               string
	DispatcherQueueDepth     int
	DispatcherEnqueueTimeout time.Duration
	StopDeadline             time.Duration

	// NewAdapter overrides how a link's transport.Adapter is built.
	// Production leaves it nil and Core builds a transport.Paho from
	// the link's broker fields; tests supply a factory returning a
	// shared transport.Fake.
	NewAdapter dispatcher.AdapterFactory

	// ParseMessage validates inbound payloads before they may drive
	// PeerMessageReceived. Defaults to appmsg.Default; a deployment
	// with a concrete application schema supplies its own.
	ParseMessage appmsg.Parser
}

// Validate applies the eager configuration checks. New calls it, so an
// empty link list or a link with no ingress topics is a
// ConfigurationError before any link is started.
func (c Config) Validate() error {
	if len(c.Links) == 0 {
		return &coreerrors.ConfigError{Field: "links", Reason: "at least one link must be configured"}
	}
	seen := make(map[string]struct{}, len(c.Links))
	for _, lc := range c.Links {
		if lc.Name == "" {
			return &coreerrors.ConfigError{Field: "links[].name", Reason: "must not be empty"}
		}
		if _, dup := seen[lc.Name]; dup {
			return &coreerrors.ConfigError{Field: "links[].name", Reason: fmt.Sprintf("duplicate link name %q", lc.Name)}
		}
		seen[lc.Name] = struct{}{}
		if len(lc.IngressTopics) == 0 {
			return &coreerrors.ConfigError{Field: "links[].ingress_topics", Reason: fmt.Sprintf("link %q has no ingress topics", lc.Name)}
		}
	}
	if c.JournalDir == "" {
		return &coreerrors.ConfigError{Field: "journal_dir", Reason: "must not be empty"}
	}
	return nil
}

// Core is the assembled runtime: journal + audit trail + dispatcher.
type Core struct {
	cfg     Config
	j       *journal.BoltJournal
	trail   *audit.Trail
	d       *dispatcher.Dispatcher
	runDone chan struct{}

	started bool
}

// New validates cfg, opens the journal and audit trail, and assembles
// the dispatcher, but does not start it; call Start to put links in
// motion.
func New(cfg Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.JournalDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create journal dir: %v", coreerrors.ErrStorageIO, err)
	}

	j, err := journal.Open(cfg.JournalDir)
	if err != nil {
		return nil, err
	}
	if err := j.IterUnacked(func(types.Event) error { return nil }); err != nil {
		j.Close()
		return nil, err
	}

	trail, err := audit.Open(j.DB())
	if err != nil {
		j.Close()
		return nil, err
	}

	newAdapter := cfg.NewAdapter
	if newAdapter == nil {
		newAdapter = pahoAdapterFactory
	}

	dcfg := dispatcher.Config{
		Links:          cfg.Links,
		QueueDepth:     cfg.DispatcherQueueDepth,
		EnqueueTimeout: cfg.DispatcherEnqueueTimeout,
		StopDeadline:   cfg.StopDeadline,
		NewAdapter:     newAdapter,
		ParseMessage:   cfg.ParseMessage,
	}
	d := dispatcher.New(dcfg, j, clock.Real{})

	c := &Core{cfg: cfg, j: j, trail: trail, d: d, runDone: make(chan struct{})}
	return c, nil
}

func pahoAdapterFactory(lc types.LinkConfig) transport.Adapter {
	return transport.NewPaho(transport.PahoConfig{
		ServerURL: lc.ServerURL,
		ClientID:  lc.ClientID,
		KeepAlive: lc.KeepAlive,
	})
}

// Start launches the dispatcher loop and connects every configured
// link's transport adapter. Every accepted call is recorded in the
// audit trail before it returns, per component 12.
func (c *Core) Start() error {
	if c.started {
		return coreerrors.ErrAlreadyStarted
	}
	c.started = true
	go func() {
		defer close(c.runDone)
		c.d.Run()
	}()
	err := c.d.Start()
	c.record("start", nil)
	return err
}

// Stop drains every link to Stopped, waits for the dispatcher loop to
// exit, then closes the journal and the audit trail that shares its
// file. ctx bounds only the wait for the stop request to be handled: if
// it expires first, its error is returned after the loop has exited.
// Once Stop returns, the façade methods below report ErrNotStarted.
func (c *Core) Stop(ctx context.Context) error {
	if !c.started {
		return coreerrors.ErrNotStarted
	}
	err := c.d.Stop(ctx)
	c.record("stop", nil)
	<-c.runDone
	if cerr := c.j.Close(); cerr != nil {
		log.WithComponent("core").Warn().Err(cerr).Msg("journal close failed")
	}
	c.started = false
	return err
}

// SendEvent journals payload for link and publishes it immediately if
// the link is Active and has in-flight budget, per §4.2/§4.4.
func (c *Core) SendEvent(payload []byte, link string) (types.EventID, error) {
	if !c.started {
		return 0, coreerrors.ErrNotStarted
	}
	id, err := c.d.SendEvent(payload, link)
	if err == nil {
		c.record("send_event", auditPayload(struct {
			Link string `json:"link"`
			ID   uint64 `json:"event_id"`
		}{Link: link, ID: uint64(id)}))
	}
	return id, err
}

// SubscribeStateChanges registers cb to receive every StateChange in
// transition order, in registration order relative to other
// subscribers, until the returned Unsubscribe is called.
func (c *Core) SubscribeStateChanges(cb types.StateChangeFunc) (types.Unsubscribe, error) {
	if !c.started {
		return nil, coreerrors.ErrNotStarted
	}
	return c.d.SubscribeStateChanges(cb)
}

// LinkState returns the current communication state of link.
func (c *Core) LinkState(link string) (types.State, error) {
	if !c.started {
		return "", coreerrors.ErrNotStarted
	}
	return c.d.LinkState(link)
}

// LinkStats returns a point-in-time snapshot of link's counters.
func (c *Core) LinkStats(link string) (types.Stats, error) {
	if !c.started {
		return types.Stats{}, coreerrors.ErrNotStarted
	}
	return c.d.LinkStats(link)
}

// Health reports whether every configured link is Active, alongside
// each link's Stats.
func (c *Core) Health() (types.HealthReport, error) {
	if !c.started {
		return types.HealthReport{}, coreerrors.ErrNotStarted
	}
	return c.d.Health()
}

// AuditTrail exposes the underlying audit log for offline inspection
// (the CLI's inspect-journal-style tooling reads it directly rather
// than through a façade method, since it is diagnostic-only).
func (c *Core) AuditTrail() *audit.Trail { return c.trail }

func (c *Core) record(kind string, payload json.RawMessage) {
	if _, err := c.trail.Append(kind, payload); err != nil {
		log.WithComponent("core").Warn().Err(err).Str("kind", kind).Msg("audit append failed")
	}
}

func auditPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
