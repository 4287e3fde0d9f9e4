package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

func TestDeliverSignsAndPosts(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := bus.New(zerolog.Nop())
	f := New(b, srv.URL, "topsecret", nil, zerolog.Nop())

	f.deliver(protocol.CanonicalEvent{
		MessageType: protocol.RFIDEvent,
		DeviceID:    "dev1",
		DeviceType:  protocol.FamilyJ,
		Payload:     []map[string]any{{"slotIndex": 1, "tagId": "tagA", "action": "ATTACHED"}},
	})

	require.NotEmpty(t, gotBody)
	var ce protocol.CanonicalEvent
	require.NoError(t, json.Unmarshal(gotBody, &ce))
	assert.Equal(t, protocol.RFIDEvent, ce.MessageType)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestFailedDeliveryReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := bus.New(zerolog.Nop())
	errCh, cancel := b.Errors.Subscribe()
	defer cancel()

	f := New(b, srv.URL, "", nil, zerolog.Nop())
	f.deliver(protocol.CanonicalEvent{MessageType: protocol.DoorState, DeviceID: "dev1"})

	select {
	case ev := <-errCh:
		assert.Equal(t, "webhook", ev.SourceComponent)
	case <-time.After(time.Second):
		t.Fatal("expected an error event")
	}
}

func TestFiltersSkipUnlistedTypes(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	b := bus.New(zerolog.Nop())
	f := New(b, srv.URL, "", map[string]bool{"RFID_EVENT": true}, zerolog.Nop())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { f.Run(stop); close(done) }()

	// Give Run a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	b.Normalized.Publish(protocol.CanonicalEvent{MessageType: protocol.TempHum, DeviceID: "dev1"})
	b.Normalized.Publish(protocol.CanonicalEvent{MessageType: protocol.RFIDEvent, DeviceID: "dev1"})
	time.Sleep(100 * time.Millisecond)

	close(stop)
	<-done
	assert.Equal(t, 1, hits)
}
