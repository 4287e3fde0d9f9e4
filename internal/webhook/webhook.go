// Package webhook forwards canonical events to an external HTTP endpoint,
// optionally filtered by messageType. Delivery is best-effort: a failed POST
// is reported on the error topic and the event is dropped, mirroring the
// storage writer's drop-and-continue policy.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// Forwarder posts filtered canonical events to a configured URL.
type Forwarder struct {
	bus     *bus.Bus
	url     string
	secret  string
	filters map[string]bool // nil forwards everything
	client  *http.Client
	log     zerolog.Logger
}

func New(b *bus.Bus, url, secret string, filters map[string]bool, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		bus:     b,
		url:     url,
		secret:  secret,
		filters: filters,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log.With().Str("component", "webhook").Logger(),
	}
}

// Run forwards events until stop is closed.
func (f *Forwarder) Run(stop <-chan struct{}) {
	defer f.bus.Recover("webhook")

	ch, cancel := f.bus.Normalized.Subscribe()
	defer cancel()
	for {
		select {
		case <-stop:
			return
		case ce, ok := <-ch:
			if !ok {
				return
			}
			if f.filters != nil && !f.filters[string(ce.MessageType)] {
				continue
			}
			f.deliver(ce)
		}
	}
}

func (f *Forwarder) deliver(ce protocol.CanonicalEvent) {
	body, err := json.Marshal(ce)
	if err != nil {
		f.bus.ReportError("webhook", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		f.bus.ReportError("webhook", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if f.secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(f.secret, body))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn().Err(err).Str("message_type", string(ce.MessageType)).Msg("webhook delivery failed")
		f.bus.ReportError("webhook", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
		f.log.Warn().Err(err).Msg("webhook delivery rejected")
		f.bus.ReportError("webhook", err)
	}
}

// sign computes the hex HMAC-SHA256 the receiver verifies the payload with.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
