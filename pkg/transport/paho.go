package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/cuemby/linkcore/pkg/log"
)

// PahoConfig configures the production Adapter. TLSConfig is passed
// through opaquely, per §6 ("TLS configuration is passed through
// opaquely") — this package never provisions certificates itself.
type PahoConfig struct {
	ServerURL  string
	ClientID   string
	KeepAlive  time.Duration
	TLSConfig  *tls.Config
	ConnectCtx context.Context
}

// Paho is the production Adapter, backed by
// github.com/eclipse/paho.golang's autopaho connection manager. It is
// the one pack-wide library purpose-built for MQTT v5 that already
// separates "connection up"/"connect error"/"server disconnect" the
// way TransportEvent requires, following the usage shape in the
// retrieval pack's internal/mqtt publisher.
type Paho struct {
	cfg    PahoConfig
	events chan Event
	cm     *autopaho.ConnectionManager
}

// NewPaho builds a Paho adapter but does not connect; call Connect to
// begin the autopaho connection loop.
func NewPaho(cfg PahoConfig) *Paho {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ConnectCtx == nil {
		cfg.ConnectCtx = context.Background()
	}
	return &Paho{cfg: cfg, events: make(chan Event, 256)}
}

func (p *Paho) Events() <-chan Event { return p.events }

func (p *Paho) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case p.events <- e:
	default:
		log.WithComponent("transport.paho").Warn().Msg("event channel full, dropping transport event")
	}
}

func (p *Paho) Connect() {
	router := paho.NewStandardRouter()
	router.RegisterHandler("#", func(pub *paho.Publish) {
		p.emit(Event{Kind: Message, Topic: pub.Topic, Payload: pub.Payload})
	})

	acCfg := autopaho.ClientConfig{
		ServerUrls: mustParseURLs(p.cfg.ServerURL),
		KeepAlive:  uint16(p.cfg.KeepAlive.Seconds()),
		TlsCfg:     p.cfg.TLSConfig,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.emit(Event{Kind: Connected})
		},
		OnConnectError: func(err error) {
			p.emit(Event{Kind: ConnectFailed, Reason: err})
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
			Router:   router,
			OnServerDisconnect: func(d *paho.Disconnect) {
				p.emit(Event{Kind: Disconnected, Reason: fmt.Errorf("server disconnect: reason %d", d.ReasonCode)})
			},
			OnClientError: func(err error) {
				p.emit(Event{Kind: Disconnected, Reason: err})
			},
		},
	}

	cm, err := autopaho.NewConnection(p.cfg.ConnectCtx, acCfg)
	if err != nil {
		p.emit(Event{Kind: ConnectFailed, Reason: err})
		return
	}
	p.cm = cm
}

func (p *Paho) Disconnect() {
	if p.cm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.cm.Disconnect(ctx)
}

func (p *Paho) Subscribe(topic string) string {
	ticket := uuid.NewString()
	if p.cm == nil {
		p.emit(Event{Kind: ConnectFailed, Reason: fmt.Errorf("subscribe before connect")})
		return ticket
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := p.cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
		})
		if err != nil {
			log.WithComponent("transport.paho").Warn().Err(err).Str("topic", topic).Msg("subscribe failed")
			return
		}
		p.emit(Event{Kind: SubAcked, Topic: topic, Ticket: ticket})
	}()
	return ticket
}

func (p *Paho) Publish(topic string, payload []byte) string {
	ticket := uuid.NewString()
	if p.cm == nil {
		return ticket
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := p.cm.Publish(ctx, &paho.Publish{
			QoS:     1,
			Topic:   topic,
			Payload: payload,
		})
		if err != nil {
			log.WithComponent("transport.paho").Warn().Err(err).Str("topic", topic).Msg("publish failed")
			return
		}
		p.emit(Event{Kind: PubAcked, Ticket: ticket})
	}()
	return ticket
}

func mustParseURLs(raw string) []*autopaho.ServerURL {
	u, err := autopaho.ParseURL(raw)
	if err != nil {
		return nil
	}
	return []*autopaho.ServerURL{u}
}
