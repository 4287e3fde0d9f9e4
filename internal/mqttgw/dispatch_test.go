package mqttgw

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

func TestDownloadTopic(t *testing.T) {
	assert.Equal(t, "V5008Download/X", DownloadTopic(protocol.FamilyB, "X"))
	assert.Equal(t, "V6800Download/GW-1", DownloadTopic(protocol.FamilyJ, "GW-1"))
}

func TestSplitTopics(t *testing.T) {
	assert.Equal(t, []string{"V5008Upload/#", "V6800Upload/#"}, SplitTopics("V5008Upload/#, V6800Upload/#"))
	assert.Nil(t, SplitTopics(""))
}

func TestDispatchRoutesByTopicPrefix(t *testing.T) {
	b := bus.New(zerolog.Nop())
	a := NewAdapter(b, zerolog.Nop())

	parsedCh, cancel := b.Parsed.Subscribe()
	defer cancel()

	// Family-J heartbeat routed to the JSON parser.
	a.dispatch(bus.RawIngress{
		Topic:   "V6800Upload/GW-9/heartbeat",
		Payload: []byte(`{"msg_type":"heart_beat_req","gateway_sn":"GW-9","uuid_number":17,"data":[]}`),
	})

	select {
	case ifm := <-parsedCh:
		assert.Equal(t, protocol.FamilyJ, ifm.DeviceType)
		assert.Equal(t, protocol.Heartbeat, ifm.MessageType)
		assert.Equal(t, "GW-9", ifm.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("expected a parsed IF")
	}
}

func TestDispatchReportsDecodeErrors(t *testing.T) {
	b := bus.New(zerolog.Nop())
	a := NewAdapter(b, zerolog.Nop())

	parsedCh, cancelParsed := b.Parsed.Subscribe()
	defer cancelParsed()
	errCh, cancelErr := b.Errors.Subscribe()
	defer cancelErr()

	a.dispatch(bus.RawIngress{
		Topic:   "V6800Upload/GW-9/heartbeat",
		Payload: []byte(`{not json`),
	})

	select {
	case ev := <-errCh:
		assert.Equal(t, "mqttgw", ev.SourceComponent)
	case <-time.After(time.Second):
		t.Fatal("expected a decode error report")
	}
	select {
	case ifm := <-parsedCh:
		t.Fatalf("malformed input must not produce an IF, got %v", ifm.MessageType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchIgnoresForeignTopics(t *testing.T) {
	b := bus.New(zerolog.Nop())
	a := NewAdapter(b, zerolog.Nop())

	parsedCh, cancel := b.Parsed.Subscribe()
	defer cancel()

	a.dispatch(bus.RawIngress{Topic: "some/other/topic", Payload: []byte("x")})

	select {
	case ifm := <-parsedCh:
		t.Fatalf("foreign topic must be ignored, got %v", ifm.MessageType)
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, b.Parsed.SubscriberCount())
}
