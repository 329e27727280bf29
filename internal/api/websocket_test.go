package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-gateway/internal/events"
)

func TestWebsocketStreamsEvents(t *testing.T) {
	ts, _ := newTestAPIServer(t, "")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?topic=" + string(events.EventOrderQueued)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// the subscription is registered after the upgrade, so keep submitting
	// fresh orders until one arrives on the socket
	got := make(chan map[string]any, 1)
	go func() {
		var env map[string]any
		if err := conn.ReadJSON(&env); err == nil {
			got <- env
		}
	}()

	deadline := time.After(2 * time.Second)
	for i := 0; ; i++ {
		doJSON(t, http.MethodPost, ts.URL+"/api/orders", map[string]any{
			"id": fmt.Sprintf("ws-%d", i), "price": "1", "quantity": 1, "side": "BUY",
		})
		select {
		case env := <-got:
			assert.Equal(t, string(events.EventOrderQueued), env["topic"])
			assert.NotEmpty(t, env["id"])
			return
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
