package broadcast

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

func dialTestHub(t *testing.T) (*Hub, *bus.Bus, *websocket.Conn, func()) {
	t.Helper()
	b := bus.New(zerolog.Nop())
	hub := NewHub(b, zerolog.Nop())

	stop := make(chan struct{})
	go hub.Run(stop)

	srv := httptest.NewServer(hub)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		close(stop)
		srv.Close()
	}
	return hub, b, conn, cleanup
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestClientAttachReceivesConnectedAndReady(t *testing.T) {
	hub, _, conn, cleanup := dialTestHub(t)
	defer cleanup()

	assert.Equal(t, "connected", readEnvelope(t, conn).Type)
	assert.Equal(t, "ready", readEnvelope(t, conn).Type)

	// Attach is registered before the handshake frames, so the count is
	// already visible.
	assert.Equal(t, 1, hub.ClientCount())
}

func TestNormalizedEventsForwardedAsData(t *testing.T) {
	_, b, conn, cleanup := dialTestHub(t)
	defer cleanup()

	readEnvelope(t, conn) // connected
	readEnvelope(t, conn) // ready

	idx := 4
	b.Normalized.Publish(protocol.CanonicalEvent{
		MessageType: protocol.TempHum,
		DeviceID:    "dev1",
		DeviceType:  protocol.FamilyB,
		ModuleIndex: &idx,
		ModuleID:    "M4",
		MessageID:   "99",
		Payload:     []map[string]any{{"sensorIndex": 10}},
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, "data", env.Type)
	require.NotNil(t, env.Data)
	assert.Equal(t, protocol.TempHum, env.Data.MessageType)
	assert.Equal(t, "dev1", env.Data.DeviceID)
	require.NotNil(t, env.Data.ModuleIndex)
	assert.Equal(t, 4, *env.Data.ModuleIndex)
	assert.False(t, env.Timestamp.IsZero())
}

func TestInboundCommandRepublishedAndAcked(t *testing.T) {
	_, b, conn, cleanup := dialTestHub(t)
	defer cleanup()

	cmdCh, cancel := b.Commands.Subscribe()
	defer cancel()

	readEnvelope(t, conn) // connected
	readEnvelope(t, conn) // ready

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":        "command",
		"deviceId":    "X",
		"deviceType":  "V5008",
		"messageType": "SET_COLOR",
		"commandId":   "cmd_1",
		"payload":     map[string]any{"moduleIndex": 1, "sensorIndex": 10, "colorCode": 1},
	}))

	select {
	case cmd := <-cmdCh:
		assert.Equal(t, "X", cmd.DeviceID)
		assert.Equal(t, protocol.FamilyB, cmd.DeviceType)
		assert.Equal(t, protocol.CmdSetColor, cmd.MessageType)
		assert.Equal(t, "cmd_1", cmd.CommandID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected command republished on the bus")
	}

	ack := readEnvelope(t, conn)
	assert.Equal(t, "command_ack", ack.Type)
	assert.Equal(t, "cmd_1", ack.CommandID)
}
