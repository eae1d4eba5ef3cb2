package dashboard

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/linkcore/pkg/types"
)

type fakeSource struct {
	cb types.StateChangeFunc
}

func (f *fakeSource) SubscribeStateChanges(cb types.StateChangeFunc) (types.Unsubscribe, error) {
	f.cb = cb
	return func() { f.cb = nil }, nil
}

func TestServerStreamsStateChangesOverWebSocket(t *testing.T) {
	src := &fakeSource{}
	s := New(src)
	httpSrv := httptest.NewServer(s.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return src.cb != nil }, time.Second, time.Millisecond)

	src.cb(types.StateChange{Link: "plc-1", From: types.StateConnecting, To: types.StateActive, Reason: types.ReasonPeerMessage})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var sc types.StateChange
	require.NoError(t, json.Unmarshal(data, &sc))
	require.Equal(t, "plc-1", sc.Link)
	require.Equal(t, types.StateActive, sc.To)
}
