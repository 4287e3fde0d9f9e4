package mqttgw

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/metrics"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
	"github.com/lattice-iot/gatewaylink/internal/protocol/binproto"
	"github.com/lattice-iot/gatewaylink/internal/protocol/jsonproto"
)

// Topic prefixes for the two device families. Upload is inbound telemetry,
// download is outbound commands.
const (
	UploadPrefixB   = "V5008Upload/"
	UploadPrefixJ   = "V6800Upload/"
	DownloadPrefixB = "V5008Download/"
	DownloadPrefixJ = "V6800Download/"
)

// DownloadTopic builds the egress topic for a device.
func DownloadTopic(family protocol.Family, deviceID string) string {
	if family == protocol.FamilyJ {
		return DownloadPrefixJ + deviceID
	}
	return DownloadPrefixB + deviceID
}

// Adapter bridges the MQTT client and the bus: every received message is
// republished on ingress.raw, then parsed by family and republished on
// data.parsed. Parsing runs on the dispatcher's single goroutine, so events
// for a given device reach the normalizer in receive order.
type Adapter struct {
	bus  *bus.Bus
	log  zerolog.Logger
	stop <-chan struct{} // set by Run; bounds blocking telemetry publishes
}

func NewAdapter(b *bus.Bus, log zerolog.Logger) *Adapter {
	return &Adapter{bus: b, log: log.With().Str("component", "mqttgw").Logger()}
}

// HandleMessage is the client's inbound callback. It stamps receipt time and
// publishes on the ingress topic; the dispatcher goroutine does the parsing.
func (a *Adapter) HandleMessage(topic string, payload []byte) {
	metrics.MQTTMessagesTotal.Inc()
	a.bus.Ingress.Publish(bus.RawIngress{
		Topic:      topic,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: time.Now().UnixNano(),
	})
}

// Run consumes ingress.raw and dispatches each message to its family parser
// until stop is closed.
func (a *Adapter) Run(stop <-chan struct{}) {
	defer a.bus.Recover("mqttgw")

	a.stop = stop
	ch, cancel := a.bus.Ingress.Subscribe()
	defer cancel()
	for {
		select {
		case <-stop:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			a.dispatch(raw)
		}
	}
}

// telemetryTypes are the message kinds the backpressure policy forbids
// dropping: their publish blocks when the normalizer's inbox is full.
// Heartbeats and metadata stay fire-and-forget and may be shed.
var telemetryTypes = map[protocol.MessageType]bool{
	protocol.TempHum:      true,
	protocol.NoiseLevel:   true,
	protocol.DoorState:    true,
	protocol.RFIDSnapshot: true,
	protocol.RFIDEvent:    true,
}

// dispatch routes one raw message by topic prefix. A decode failure produces
// no parsed output; it is reported on the error topic and the message is
// dropped.
func (a *Adapter) dispatch(raw bus.RawIngress) {
	var (
		ifm    *protocol.IntermediateForm
		family protocol.Family
		err    error
	)
	switch {
	case strings.HasPrefix(raw.Topic, UploadPrefixB):
		family = protocol.FamilyB
		ifm, err = binproto.Parse(raw.Topic, raw.Payload)
	case strings.HasPrefix(raw.Topic, UploadPrefixJ):
		family = protocol.FamilyJ
		ifm, err = jsonproto.Parse(raw.Topic, raw.Payload)
	default:
		a.log.Debug().Str("topic", raw.Topic).Msg("message on unrecognized topic, ignoring")
		return
	}

	if err != nil {
		metrics.ParseFailuresTotal.WithLabelValues(string(family)).Inc()
		a.log.Warn().Err(err).Str("topic", raw.Topic).Int("bytes", len(raw.Payload)).Msg("parse failed, dropping message")
		a.bus.ReportError("mqttgw", err)
		return
	}
	if ifm == nil {
		return
	}

	metrics.ParsedMessagesTotal.WithLabelValues(string(family)).Inc()
	if telemetryTypes[ifm.MessageType] {
		a.bus.Parsed.PublishBlocking(*ifm, a.stop)
		return
	}
	a.bus.Parsed.Publish(*ifm)
}
