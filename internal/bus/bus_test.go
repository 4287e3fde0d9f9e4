package bus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicPublishSubscribeFIFO(t *testing.T) {
	topic := NewTopic[int](8)
	ch, cancel := topic.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		topic.Publish(i)
	}

	for i := 0; i < 5; i++ {
		select {
		case v := <-ch:
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for publish")
		}
	}
}

func TestTopicSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	slow := NewTopic[int](1)
	slowCh, slowCancel := slow.Subscribe()
	defer slowCancel()
	fastCh, fastCancel := slow.Subscribe()
	defer fastCancel()

	// Fill the slow subscriber's buffer, then publish more — those extra
	// sends must drop for the slow subscriber without blocking the publish
	// or starving the fast subscriber.
	for i := 0; i < 5; i++ {
		slow.Publish(i)
	}

	select {
	case v := <-fastCh:
		assert.Equal(t, 0, v)
	default:
		t.Fatal("fast subscriber received nothing")
	}
	assert.Len(t, slowCh, 1)
}

func TestPublishBlockingWaitsForDrain(t *testing.T) {
	topic := NewTopic[int](1)
	ch, cancel := topic.Subscribe()
	defer cancel()

	topic.Publish(1) // fills the buffer

	delivered := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		topic.PublishBlocking(2, stop)
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("blocking publish should wait for a full buffer to drain")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, 1, <-ch)
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("blocking publish did not complete after drain")
	}
	assert.Equal(t, 2, <-ch)
}

func TestPublishBlockingAbortsOnStop(t *testing.T) {
	topic := NewTopic[int](1)
	_, cancel := topic.Subscribe()
	defer cancel()

	topic.Publish(1)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		topic.PublishBlocking(2, stop)
		close(done)
	}()
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking publish did not abort on stop")
	}
}

func TestTopicCancelUnsubscribes(t *testing.T) {
	topic := NewTopic[string](4)
	_, cancel := topic.Subscribe()
	assert.Equal(t, 1, topic.SubscriberCount())
	cancel()
	assert.Equal(t, 0, topic.SubscriberCount())
}

func TestBusReportErrorNilIsNoop(t *testing.T) {
	b := New(zerolog.Nop())
	ch, cancel := b.Errors.Subscribe()
	defer cancel()

	b.ReportError("test", nil)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected error event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusRecoverCapturesPanic(t *testing.T) {
	b := New(zerolog.Nop())
	ch, cancel := b.Errors.Subscribe()
	defer cancel()

	func() {
		defer b.Recover("widget")
		panic("boom")
	}()

	select {
	case ev := <-ch:
		require.Equal(t, "widget", ev.SourceComponent)
		assert.Contains(t, ev.Err.Error(), "boom")
	case <-time.After(time.Second):
		t.Fatal("expected recovered panic to be reported")
	}
}
