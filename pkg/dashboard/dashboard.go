// Package dashboard serves a WebSocket feed of StateChange events for
// operator tooling: connect, and every link transition from then on
// arrives as a JSON frame.
//
// Grounded on the retrieval pack's internal/viewer/routes media
// WebSocket handler (petervdpas-goop2): upgrade the connection, drain
// inbound control frames (ping/pong, close) in their own goroutine,
// and push outbound frames from a subscription channel in a select
// loop that also watches for client disconnect.
package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cuemby/linkcore/pkg/log"
	"github.com/cuemby/linkcore/pkg/types"
)

// StateChangeSource is the capability dashboard depends on; *core.Core
// satisfies it.
type StateChangeSource interface {
	SubscribeStateChanges(cb types.StateChangeFunc) (types.Unsubscribe, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves /ws/state-changes.
type Server struct {
	core StateChangeSource
}

// New builds a dashboard Server over core.
func New(core StateChangeSource) *Server {
	return &Server{core: core}
}

// Handler returns the HTTP handler for the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("dashboard").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	changes := make(chan types.StateChange, 64)
	unsub, err := s.core.SubscribeStateChanges(func(sc types.StateChange) {
		select {
		case changes <- sc:
		default:
			log.WithComponent("dashboard").Warn().Str("link", sc.Link).Msg("dropped state change, slow dashboard client")
		}
	})
	if err != nil {
		log.WithComponent("dashboard").Warn().Err(err).Msg("subscribe failed")
		return
	}
	defer unsub()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case sc, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(sc)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
