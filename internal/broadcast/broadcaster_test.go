package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kestrelqa/selfheal/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishPreservesPerCorrelationOrder(t *testing.T) {
	b := New(zaptest.NewLogger(t), 16)
	defer b.Shutdown()

	events, cancel := b.Subscribe(schemas.ValidationChannel("tc-1"))
	defer cancel()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		b.Publish(ctx, schemas.Event{
			Channel:       schemas.ValidationChannel("tc-1"),
			Type:          schemas.EventHealingProgress,
			CorrelationID: "session-1",
		})
	}

	for want := int64(1); want <= 5; want++ {
		select {
		case event := <-events:
			assert.Equal(t, want, event.Sequence)
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSequencesAreIndependentPerCorrelationID(t *testing.T) {
	b := New(zaptest.NewLogger(t), 16)
	defer b.Shutdown()

	events, cancel := b.Subscribe()
	defer cancel()

	ctx := context.Background()
	b.Publish(ctx, schemas.Event{Channel: "a", CorrelationID: "s1"})
	b.Publish(ctx, schemas.Event{Channel: "a", CorrelationID: "s2"})
	b.Publish(ctx, schemas.Event{Channel: "a", CorrelationID: "s1"})

	got := map[string][]int64{}
	for i := 0; i < 3; i++ {
		event := <-events
		got[event.CorrelationID] = append(got[event.CorrelationID], event.Sequence)
	}
	assert.Equal(t, []int64{1, 2}, got["s1"])
	assert.Equal(t, []int64{1}, got["s2"])
}

func TestSubscribeFiltersByChannel(t *testing.T) {
	b := New(zaptest.NewLogger(t), 16)
	defer b.Shutdown()

	recording, cancelRec := b.Subscribe(schemas.RecordingChannel("r-1"))
	defer cancelRec()
	all, cancelAll := b.Subscribe()
	defer cancelAll()

	ctx := context.Background()
	b.Publish(ctx, schemas.Event{Channel: schemas.RecordingChannel("r-1"), CorrelationID: "r-1"})
	b.Publish(ctx, schemas.Event{Channel: schemas.ValidationChannel("tc-9"), CorrelationID: "s-9"})

	event := <-recording
	assert.Equal(t, schemas.RecordingChannel("r-1"), event.Channel)
	select {
	case unexpected := <-recording:
		t.Fatalf("filtered subscriber received %q", unexpected.Channel)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Len(t, drain(all), 2)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	b := New(zap.New(core), 1)
	defer b.Shutdown()

	events, cancel := b.Subscribe("ch")
	defer cancel()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Publish(ctx, schemas.Event{Channel: "ch", CorrelationID: "s"})
	}

	// Only the buffered event survives; the overflow is logged, not blocked.
	received := drain(events)
	require.Len(t, received, 1)
	assert.Equal(t, int64(1), received[0].Sequence)
	assert.Equal(t, 2, logs.FilterMessage("Subscriber buffer full, dropping event.").Len())
}

func TestUnsubscribeClosesStream(t *testing.T) {
	b := New(zaptest.NewLogger(t), 4)
	defer b.Shutdown()

	events, cancel := b.Subscribe("ch")
	cancel()

	_, open := <-events
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(context.Background(), schemas.Event{Channel: "ch", CorrelationID: "s"})
}

func TestShutdownClosesAllSubscribers(t *testing.T) {
	b := New(zaptest.NewLogger(t), 4)
	first, cancelFirst := b.Subscribe("a")
	defer cancelFirst()
	second, cancelSecond := b.Subscribe("b")
	defer cancelSecond()

	b.Shutdown()
	b.Shutdown() // idempotent

	_, open := <-first
	assert.False(t, open)
	_, open = <-second
	assert.False(t, open)

	// A late subscriber gets an already-closed stream.
	late, _ := b.Subscribe("c")
	_, open = <-late
	assert.False(t, open)
}

func drain(events <-chan schemas.Event) []schemas.Event {
	var out []schemas.Event
	for {
		select {
		case event := <-events:
			out = append(out, event)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}
