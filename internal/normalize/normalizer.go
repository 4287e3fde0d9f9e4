// Package normalize implements the normalizer (C5): it turns a parser's
// protocol-agnostic intermediate form into canonical events, mutating the
// shared state cache along the way and triggering repair/resync commands
// when the cache notices missing metadata.
//
// Dispatch is a messageType switch: each handler resolves the cache entry,
// merges state, and publishes zero or more canonical events on the bus.
// Batching for SQL is the storage writer's job downstream.
package normalize

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/cache"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// Normalizer consumes parsed intermediate forms and produces canonical
// events plus, occasionally, command requests. It holds no state of its
// own beyond the repair debounce map; the cache is the system of record.
type Normalizer struct {
	cache            *cache.Cache
	bus              *bus.Bus
	heartbeatTimeout time.Duration
	log              zerolog.Logger

	repairMu   sync.Mutex
	lastRepair map[string]time.Time
}

// New builds a Normalizer. heartbeatTimeout doubles as the repair debounce
// window: a missing-metadata query is re-issued at most once per window.
func New(c *cache.Cache, b *bus.Bus, heartbeatTimeout time.Duration, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		cache:            c,
		bus:              b,
		heartbeatTimeout: heartbeatTimeout,
		log:              log.With().Str("component", "normalize").Logger(),
		lastRepair:       make(map[string]time.Time),
	}
}

// Run subscribes to the bus's parsed-intermediate topic and processes every
// IF until stop is closed.
func (n *Normalizer) Run(stop <-chan struct{}) {
	ch, cancel := n.bus.Parsed.Subscribe()
	defer cancel()
	for {
		select {
		case <-stop:
			return
		case ifm, ok := <-ch:
			if !ok {
				return
			}
			n.process(ifm)
		}
	}
}

// process dispatches one IF by messageType. It never panics: any handler
// failure is recovered and reported on the error topic so one malformed
// message cannot take down the normalizer goroutine.
func (n *Normalizer) process(ifm protocol.IntermediateForm) {
	defer n.bus.Recover("normalize")

	switch ifm.MessageType {
	case protocol.Heartbeat:
		n.handleHeartbeat(ifm)
	case protocol.DeviceInfo, protocol.ModuleInfo, protocol.DevModInfo:
		n.handleMetadataUpdate(ifm, false)
	case protocol.UTotalChanged:
		n.handleMetadataUpdate(ifm, true)
	case protocol.TempHum:
		n.handleTempHum(ifm, protocol.TempHum)
	case protocol.NoiseLevel:
		n.handleNoise(ifm)
	case protocol.DoorState:
		n.handleDoorState(ifm, protocol.DoorState)
	case protocol.RFIDSnapshot:
		n.handleRFIDSnapshot(ifm)
	case protocol.RFIDEvent:
		n.handleRFIDEvent(ifm)
	case protocol.QryClrResp, protocol.SetClrResp, protocol.ClnAlmResp:
		n.handleCommandResponsePassthrough(ifm)
	case protocol.QryTempHumResp:
		n.handleTempHum(ifm, protocol.QryTempHumResp)
	case protocol.QryDoorStateResp:
		n.handleDoorState(ifm, protocol.QryDoorStateResp)
	case protocol.Unknown:
		// No output, no propagation. The parser already preserved the raw
		// payload in meta; nothing more to do.
	default:
		n.log.Warn().Str("messageType", string(ifm.MessageType)).Msg("normalizer: no handler for message type")
	}
}

func (n *Normalizer) emit(ce protocol.CanonicalEvent) {
	ce.EmittedAt = now()
	n.bus.Normalized.Publish(ce)
}

func (n *Normalizer) requestCommand(deviceID string, deviceType protocol.Family, msgType protocol.MessageType, payload map[string]any) {
	n.bus.Commands.Publish(protocol.CommandRequest{
		DeviceID:    deviceID,
		DeviceType:  deviceType,
		MessageType: msgType,
		Payload:     payload,
	})
}

// debounce reports whether the repair identified by key may fire now,
// recording the attempt if so. Repeated calls within heartbeatTimeout are
// suppressed so a flapping device does not flood the command topic.
func (n *Normalizer) debounce(key string) bool {
	n.repairMu.Lock()
	defer n.repairMu.Unlock()
	last, ok := n.lastRepair[key]
	t := now()
	if ok && t.Sub(last) < n.heartbeatTimeout {
		return false
	}
	n.lastRepair[key] = t
	return true
}

// now is a var so tests can substitute a fixed clock.
var now = time.Now
