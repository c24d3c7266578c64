package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestra/tidesync/internal/chain"
)

// A subscribe call that times out must forget both its pending reply slot and
// its handler registration, or a late ack frame would be handed to the
// handler as if it were a push event.
func TestSubscribeTimeoutUnregistersHandler(t *testing.T) {
	old := callTimeout
	callTimeout = 100 * time.Millisecond
	defer func() { callTimeout = old }()

	// A peer that reads calls but never answers them.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	m := NewManager(chain.BTC, url, nil)
	m.conn = conn

	_, err = m.subscribe("subscribeNewBlock", nil, func(json.RawMessage) {})
	require.Error(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.pending, "timed-out call left a pending slot behind")
	assert.Empty(t, m.subs, "timed-out call left its handler registered")
}
