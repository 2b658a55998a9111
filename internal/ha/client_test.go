package ha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

// mockHAServer speaks just enough of the Home Assistant WebSocket protocol
// for the client tests: auth handshake, area registry, call_service.
type mockHAServer struct {
	srv       *httptest.Server
	areas     []Area
	authToken string
}

func newMockHAServer(t *testing.T) *mockHAServer {
	t.Helper()
	m := &mockHAServer{
		authToken: "valid-token",
		areas: []Area{
			{AreaID: "garage", Name: "Garage"},
			{AreaID: "attic", Name: "Attic"},
		},
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockHAServer) url() string {
	return "ws" + strings.TrimPrefix(m.srv.URL, "http")
}

func (m *mockHAServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.WriteJSON(map[string]string{"type": "auth_required"})

	var auth AuthMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != m.authToken {
		conn.WriteJSON(map[string]string{"type": "auth_invalid"})
		return
	}
	conn.WriteJSON(map[string]string{"type": "auth_ok"})

	for {
		var raw map[string]interface{}
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}
		id := int(raw["id"].(float64))
		switch raw["type"] {
		case "config/area_registry/list":
			result, _ := json.Marshal(m.areas)
			conn.WriteJSON(map[string]interface{}{
				"id": id, "type": "result", "success": true, "result": json.RawMessage(result),
			})
		case "call_service":
			conn.WriteJSON(map[string]interface{}{
				"id": id, "type": "result", "success": true,
			})
		default:
			conn.WriteJSON(map[string]interface{}{
				"id": id, "type": "result", "success": false,
				"error": map[string]string{"code": "unknown_command", "message": "unknown command"},
			})
		}
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	m := newMockHAServer(t)
	client := NewClient(m.url(), "valid-token", zap.NewNop())

	require.NoError(t, client.Connect())
	assert.True(t, client.IsConnected())

	assert.Error(t, client.Connect(), "double connect is rejected")

	require.NoError(t, client.Disconnect())
	assert.False(t, client.IsConnected())
}

func TestConnectInvalidToken(t *testing.T) {
	m := newMockHAServer(t)
	client := NewClient(m.url(), "wrong-token", zap.NewNop())

	err := client.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
	assert.False(t, client.IsConnected())
}

func TestListAreas(t *testing.T) {
	m := newMockHAServer(t)
	client := NewClient(m.url(), "valid-token", zap.NewNop())
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	names, err := client.ListAreas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Garage", "Attic"}, names)
}

func TestNotify(t *testing.T) {
	m := newMockHAServer(t)
	client := NewClient(m.url(), "valid-token", zap.NewNop())
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.Notify(context.Background(), "Item Moved", "Successfully moved item", "homebox_item_moved")
	assert.NoError(t, err)
}

func TestSendMessageWhenDisconnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/api/websocket", "token", zap.NewNop())
	_, err := client.ListAreas(context.Background())
	assert.Error(t, err)
}

func TestSendMessageContextCancelled(t *testing.T) {
	// A server that authenticates but never answers commands.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]string{"type": "auth_required"})
		var auth AuthMessage
		conn.ReadJSON(&auth)
		conn.WriteJSON(map[string]string{"type": "auth_ok"})
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	client := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "token", zap.NewNop())
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.ListAreas(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
