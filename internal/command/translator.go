// Package command implements the command translator (C7): it consumes
// abstract control intents from the command-request bus topic, validates
// them, encodes them into the owning family's wire shape, and publishes the
// result on that device's download topic. Translation failures are reported
// on the error topic and never propagate — commands are best-effort by
// design; the REST endpoint that originated one has already answered 202.
package command

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/metrics"
	"github.com/lattice-iot/gatewaylink/internal/mqttgw"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// Publisher is the transport-facing slice of mqttgw.Client the translator
// needs, narrowed so tests can substitute a recorder.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Translator consumes command requests and publishes device-native frames.
type Translator struct {
	bus *bus.Bus
	pub Publisher
	log zerolog.Logger
}

func New(b *bus.Bus, pub Publisher, log zerolog.Logger) *Translator {
	return &Translator{
		bus: b,
		pub: pub,
		log: log.With().Str("component", "command").Logger(),
	}
}

// Run processes command requests until stop is closed.
func (t *Translator) Run(stop <-chan struct{}) {
	defer t.bus.Recover("command")

	ch, cancel := t.bus.Commands.Subscribe()
	defer cancel()
	for {
		select {
		case <-stop:
			return
		case cmd, ok := <-ch:
			if !ok {
				return
			}
			t.Translate(cmd)
		}
	}
}

// Translate validates and encodes one command request. It never returns an
// error to the caller; failures go to the error topic.
func (t *Translator) Translate(cmd protocol.CommandRequest) {
	if err := t.translate(cmd); err != nil {
		metrics.CommandFailuresTotal.Inc()
		t.log.Warn().Err(err).
			Str("device_id", cmd.DeviceID).
			Str("message_type", string(cmd.MessageType)).
			Msg("command translation failed")
		t.bus.ReportError("command", err)
		return
	}
	metrics.CommandsPublishedTotal.WithLabelValues(string(cmd.DeviceType)).Inc()
}

func (t *Translator) translate(cmd protocol.CommandRequest) error {
	if cmd.DeviceID == "" {
		return fmt.Errorf("command missing deviceId")
	}
	if cmd.MessageType == "" {
		return fmt.Errorf("command missing messageType")
	}

	switch cmd.DeviceType {
	case protocol.FamilyB:
		return t.translateBinary(cmd)
	case protocol.FamilyJ:
		return t.translateJSON(cmd)
	default:
		return fmt.Errorf("command for unknown deviceType %q", cmd.DeviceType)
	}
}

// publish sends one encoded frame to the device's download topic at QoS 1.
func (t *Translator) publish(cmd protocol.CommandRequest, payload []byte) error {
	topic := mqttgw.DownloadTopic(cmd.DeviceType, cmd.DeviceID)
	if err := t.pub.Publish(topic, 1, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	t.log.Debug().
		Str("topic", topic).
		Str("message_type", string(cmd.MessageType)).
		Str("command_id", cmd.CommandID).
		Int("bytes", len(payload)).
		Msg("command published")
	return nil
}

// colorEntry is one (sensorIndex, colorCode) pair of a SET_COLOR intent,
// extracted from either a colorMap[] or the flat field pair.
type colorEntry struct {
	SensorIndex int
	ColorCode   int
}

// colorEntries validates and extracts the SET_COLOR payload shape.
func colorEntries(payload map[string]any) ([]colorEntry, error) {
	if raw, ok := payload["colorMap"]; ok {
		items, ok := toSlice(raw)
		if !ok || len(items) == 0 {
			return nil, fmt.Errorf("SET_COLOR colorMap must be a non-empty array")
		}
		entries := make([]colorEntry, 0, len(items))
		for _, it := range items {
			m, ok := toMap(it)
			if !ok {
				return nil, fmt.Errorf("SET_COLOR colorMap entries must be objects")
			}
			sensor, ok1 := intFrom(m["sensorIndex"])
			code, ok2 := intFrom(m["colorCode"])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("SET_COLOR colorMap entry missing sensorIndex or colorCode")
			}
			entries = append(entries, colorEntry{sensor, code})
		}
		return entries, nil
	}

	sensor, ok1 := intFrom(payload["sensorIndex"])
	code, ok2 := intFrom(payload["colorCode"])
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("SET_COLOR requires colorMap or sensorIndex and colorCode")
	}
	return []colorEntry{{sensor, code}}, nil
}

func requireModuleIndex(payload map[string]any) (int, error) {
	idx, ok := intFrom(payload["moduleIndex"])
	if !ok {
		return 0, fmt.Errorf("command requires moduleIndex")
	}
	return idx, nil
}

// intFrom accepts the two encodings a payload field arrives in: native int
// from in-process publishers, float64 from decoded REST JSON.
func intFrom(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func toSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []map[string]any:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
