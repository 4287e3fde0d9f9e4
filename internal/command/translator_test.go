package command

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// recordingPublisher captures frames instead of touching a broker.
type recordingPublisher struct {
	topics   []string
	qos      []byte
	payloads [][]byte
	fail     bool
}

func (p *recordingPublisher) Publish(topic string, qos byte, payload []byte) error {
	if p.fail {
		return fmt.Errorf("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	p.qos = append(p.qos, qos)
	p.payloads = append(p.payloads, payload)
	return nil
}

func newTestTranslator() (*Translator, *recordingPublisher, *bus.Bus) {
	b := bus.New(zerolog.Nop())
	pub := &recordingPublisher{}
	return New(b, pub, zerolog.Nop()), pub, b
}

// TestSetColorBinaryScenario drives a single-sensor color set end to end:
// the translator publishes E1 01 0A 01 on V5008Download/X.
func TestSetColorBinaryScenario(t *testing.T) {
	tr, pub, _ := newTestTranslator()
	tr.Translate(protocol.CommandRequest{
		DeviceID:    "X",
		DeviceType:  protocol.FamilyB,
		MessageType: protocol.CmdSetColor,
		Payload:     map[string]any{"moduleIndex": 1, "sensorIndex": 10, "colorCode": 1},
	})

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "V5008Download/X", pub.topics[0])
	assert.Equal(t, byte(1), pub.qos[0])
	assert.Equal(t, []byte{0xE1, 0x01, 0x0A, 0x01}, pub.payloads[0])
}

func TestSetColorBinaryColorMap(t *testing.T) {
	tr, pub, _ := newTestTranslator()
	tr.Translate(protocol.CommandRequest{
		DeviceID:    "X",
		DeviceType:  protocol.FamilyB,
		MessageType: protocol.CmdSetColor,
		Payload: map[string]any{
			"moduleIndex": 2,
			"colorMap": []any{
				map[string]any{"sensorIndex": 3.0, "colorCode": 1.0},
				map[string]any{"sensorIndex": 4.0, "colorCode": 2.0},
			},
		},
	})

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, []byte{0xE1, 0x02, 0x03, 0x01, 0x04, 0x02}, pub.payloads[0])
}

func TestQryDevModInfoBinarySynthesizesTwoFrames(t *testing.T) {
	tr, pub, _ := newTestTranslator()
	tr.Translate(protocol.CommandRequest{
		DeviceID:    "2437871205",
		DeviceType:  protocol.FamilyB,
		MessageType: protocol.CmdQryDevModInfo,
	})

	require.Len(t, pub.payloads, 2)
	assert.Equal(t, []byte{0xEF, 0x01, 0x00}, pub.payloads[0])
	assert.Equal(t, []byte{0xEF, 0x02, 0x00}, pub.payloads[1])
}

func TestQryRFIDSnapshotBinary(t *testing.T) {
	tr, pub, _ := newTestTranslator()
	tr.Translate(protocol.CommandRequest{
		DeviceID:    "X",
		DeviceType:  protocol.FamilyB,
		MessageType: protocol.CmdQryRFIDSnapshot,
		Payload:     map[string]any{"moduleIndex": 3},
	})

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, []byte{0xE9, 0x01, 0x03}, pub.payloads[0])
}

func TestSetColorJSON(t *testing.T) {
	tr, pub, _ := newTestTranslator()
	tr.Translate(protocol.CommandRequest{
		DeviceID:    "GW-1",
		DeviceType:  protocol.FamilyJ,
		MessageType: protocol.CmdSetColor,
		Payload:     map[string]any{"moduleIndex": 1, "sensorIndex": 10, "colorCode": 1},
	})

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "V6800Download/GW-1", pub.topics[0])

	var env map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &env))
	assert.Equal(t, "set_module_property_req", env["msg_type"])
	assert.Equal(t, 1.0, env["module_index"])
	assert.NotNil(t, env["uuid_number"])
	colorData := env["u_color_data"].([]any)
	require.Len(t, colorData, 1)
	entry := colorData[0].(map[string]any)
	assert.Equal(t, 10.0, entry["index"])
	assert.Equal(t, 1.0, entry["color"])
}

func TestClnAlarmJSON(t *testing.T) {
	tr, pub, _ := newTestTranslator()
	tr.Translate(protocol.CommandRequest{
		DeviceID:    "GW-1",
		DeviceType:  protocol.FamilyJ,
		MessageType: protocol.CmdClnAlarm,
		Payload:     map[string]any{"moduleIndex": 2, "sensorIndex": 7},
	})

	require.Len(t, pub.payloads, 1)
	var env map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &env))
	assert.Equal(t, "clear_u_warning", env["msg_type"])
	assert.Equal(t, 2.0, env["module_index"])
	assert.Equal(t, 7.0, env["index"])
}

func TestUnknownDeviceTypeReportsError(t *testing.T) {
	tr, pub, b := newTestTranslator()
	errCh, cancel := b.Errors.Subscribe()
	defer cancel()

	tr.Translate(protocol.CommandRequest{
		DeviceID:    "X",
		DeviceType:  protocol.Family("V9999"),
		MessageType: protocol.CmdSetColor,
	})

	assert.Empty(t, pub.payloads)
	select {
	case ev := <-errCh:
		assert.Equal(t, "command", ev.SourceComponent)
	case <-time.After(time.Second):
		t.Fatal("expected an error event")
	}
}

func TestValidationFailureReportsError(t *testing.T) {
	tr, pub, b := newTestTranslator()
	errCh, cancel := b.Errors.Subscribe()
	defer cancel()

	// SET_COLOR without moduleIndex.
	tr.Translate(protocol.CommandRequest{
		DeviceID:    "X",
		DeviceType:  protocol.FamilyB,
		MessageType: protocol.CmdSetColor,
		Payload:     map[string]any{"sensorIndex": 10, "colorCode": 1},
	})

	assert.Empty(t, pub.payloads)
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("expected an error event")
	}
}

func TestPublishFailureReportsError(t *testing.T) {
	tr, pub, b := newTestTranslator()
	pub.fail = true
	errCh, cancel := b.Errors.Subscribe()
	defer cancel()

	tr.Translate(protocol.CommandRequest{
		DeviceID:    "X",
		DeviceType:  protocol.FamilyB,
		MessageType: protocol.CmdQryDeviceInfo,
	})

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("expected an error event")
	}
}
