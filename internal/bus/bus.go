// Package bus implements the process-wide typed pub/sub used to glue the
// pipeline components together: ingress.raw, data.parsed, data.normalized,
// command.request, and a broadcast error channel. There is no retention or
// replay: a message published with no subscriber listening is gone.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// Topic is a single named channel supporting multiple subscribers. Delivery
// to subscribers of the same topic follows publication order (FIFO); a slow
// or absent subscriber never blocks another subscriber or the publisher —
// sends are non-blocking and drop on a full subscriber buffer.
type Topic[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan T
	nextID      atomic.Uint64
	bufSize     int
}

// NewTopic creates a topic whose subscriber channels are each buffered to
// bufSize. A bufSize of 0 makes every send non-blocking and drop-on-full by
// construction (the select below still applies for bufSize > 0).
func NewTopic[T any](bufSize int) *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[uint64]chan T),
		bufSize:     bufSize,
	}
}

// Subscribe registers a new subscriber and returns its channel and a cancel
// function that unregisters it.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	t.mu.Lock()
	id := t.nextID.Add(1)
	ch := make(chan T, t.bufSize)
	t.subscribers[id] = ch
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if existing, ok := t.subscribers[id]; ok {
			delete(t.subscribers, id)
			close(existing)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers v to every current subscriber. Fire-and-forget: there is
// no acknowledgement and no persistence. A full subscriber buffer causes
// that one delivery to be dropped; other subscribers are unaffected.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
}

// PublishBlocking delivers v to every current subscriber, waiting for each
// full buffer to drain instead of dropping. Used for telemetry, which the
// backpressure policy says must block the ingress adapter rather than be
// lost; stop aborts the wait during shutdown.
func (t *Topic[T]) PublishBlocking(v T, stop <-chan struct{}) {
	t.mu.RLock()
	subscribers := make([]chan T, 0, len(t.subscribers))
	for _, ch := range t.subscribers {
		subscribers = append(subscribers, ch)
	}
	t.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- v:
		case <-stop:
			return
		}
	}
}

// SubscriberCount reports the current number of live subscribers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

// Bus aggregates the five named channels: raw-ingress, parsed-intermediate,
// normalized-event, command-request, and a broadcast error channel.
type Bus struct {
	Ingress    *Topic[RawIngress]
	Parsed     *Topic[protocol.IntermediateForm]
	Normalized *Topic[protocol.CanonicalEvent]
	Commands   *Topic[protocol.CommandRequest]
	Errors     *Topic[protocol.ErrorEvent]

	log zerolog.Logger
}

// RawIngress is the payload published by the ingress adapter before
// dispatching to a parser: opaque transport bytes plus their originating
// topic.
type RawIngress struct {
	Topic      string
	Payload    []byte
	ReceivedAt int64 // unix nanos; set by the adapter, never by the bus
}

// New constructs a Bus with reasonable subscriber buffer sizes: the data
// channels get headroom because temp/hum, noise, door, and RFID messages
// are never shed for backpressure (heartbeats and other non-telemetry
// messages may be).
func New(log zerolog.Logger) *Bus {
	return &Bus{
		Ingress:    NewTopic[RawIngress](256),
		Parsed:     NewTopic[protocol.IntermediateForm](256),
		Normalized: NewTopic[protocol.CanonicalEvent](256),
		Commands:   NewTopic[protocol.CommandRequest](64),
		Errors:     NewTopic[protocol.ErrorEvent](64),
		log:        log,
	}
}

// ReportError tags err with the originating component and publishes it on
// the error topic. Every component that catches an internal failure calls
// this instead of propagating — no component throws across a channel
// boundary.
func (b *Bus) ReportError(component string, err error) {
	if err == nil {
		return
	}
	b.Errors.Publish(protocol.ErrorEvent{SourceComponent: component, Err: err})
}

// RunErrorLogger subscribes to the error topic and renders every error as a
// structured log record. It runs until stop is closed.
func (b *Bus) RunErrorLogger(stop <-chan struct{}) {
	ch, cancel := b.Errors.Subscribe()
	defer cancel()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.log.Error().
				Str("component", ev.SourceComponent).
				Err(ev.Err).
				Msg("component error")
		}
	}
}

// Recover turns a goroutine-boundary panic into an error report instead of
// crashing the process. Worker loops install it with defer at the top of
// their Run methods.
func (b *Bus) Recover(component string) {
	if r := recover(); r != nil {
		b.log.Error().Str("component", component).Interface("panic", r).Msg("recovered from panic")
		b.ReportError(component, errPanic{r})
	}
}

type errPanic struct{ v any }

func (e errPanic) Error() string {
	return "panic: " + formatPanic(e.v)
}

func formatPanic(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-error panic value"
}
