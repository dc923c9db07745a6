package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo.evalgo.org/mode"
)

type captureSender struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (c *captureSender) Send(_ context.Context, events []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	batch := make([]Event, len(events))
	copy(batch, events)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureSender) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestSinkBuffersUntilFull(t *testing.T) {
	sender := &captureSender{}
	sink := NewSink(Config{BufferSize: 3, FlushInterval: time.Hour, Sender: sender})
	defer sink.Close()

	sink.Record(Event{Type: EventModeDetected})
	sink.Record(Event{Type: EventModeDetected})
	assert.Equal(t, 2, sink.Len())
	assert.Equal(t, 0, sender.total())

	// Third event fills the buffer and triggers a flush.
	sink.Record(Event{Type: EventFallbackTriggered})
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, 3, sender.total())
}

func TestSinkRequeuesFailedBatch(t *testing.T) {
	sender := &captureSender{err: errors.New("collector down")}
	sink := NewSink(Config{BufferSize: 100, FlushInterval: time.Hour, Sender: sender})
	defer sink.Close()

	sink.Record(Event{Type: EventInvariantBreach})
	sink.Flush(context.Background())
	assert.Equal(t, 1, sink.Len(), "failed batch returns to the buffer")

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	sink.Flush(context.Background())
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, 1, sender.total())
}

func TestSinkCloseDrains(t *testing.T) {
	sender := &captureSender{}
	sink := NewSink(Config{BufferSize: 100, FlushInterval: time.Hour, Sender: sender})

	sink.Record(Event{Type: EventModeDetected})
	sink.Record(Event{Type: EventModeDetected})
	sink.Close()

	assert.Equal(t, 2, sender.total())
}

func TestSinkSamplingDropsOnlyModeDetected(t *testing.T) {
	sender := &captureSender{}
	sink := NewSink(Config{BufferSize: 1000, FlushInterval: time.Hour, SampleRate: 0.0001, Sender: sender})
	defer sink.Close()

	for i := 0; i < 50; i++ {
		sink.Record(Event{Type: EventModeDetected})
	}
	sink.Record(Event{Type: EventFallbackTriggered})
	sink.Record(Event{Type: EventInvariantBreach})

	// Fallback and breach events always survive sampling.
	assert.GreaterOrEqual(t, sink.Len(), 2)
	assert.Less(t, sink.Len(), 52)
}

func TestSinkTimestampsDefault(t *testing.T) {
	sender := &captureSender{}
	sink := NewSink(Config{BufferSize: 1, FlushInterval: time.Hour, Sender: sender})
	defer sink.Close()

	sink.Record(Event{Type: EventModeDetected})
	require.Equal(t, 1, sender.total())
	assert.False(t, sender.batches[0][0].Timestamp.IsZero())
}

func TestRecordModeDetectedPayload(t *testing.T) {
	sender := &captureSender{}
	sink := NewSink(Config{BufferSize: 1, FlushInterval: time.Hour, Sender: sender})
	defer sink.Close()

	sink.RecordModeDetected("t1", "s1", "r1", mode.ModeTask, 0.95, []mode.Invariant{
		{Type: mode.InvariantSafety, Priority: 1000},
	})

	require.Equal(t, 1, sender.total())
	ev := sender.batches[0][0]
	assert.Equal(t, EventModeDetected, ev.Type)
	assert.Equal(t, "t1", ev.TenantID)
	assert.Equal(t, "TASK", ev.Payload["mode"])
	assert.Equal(t, 0.95, ev.Payload["confidence"])
	assert.Equal(t, []string{"SAFETY_REQUIREMENT"}, ev.Payload["invariants"])
}

func TestRecordBreachPayload(t *testing.T) {
	sender := &captureSender{}
	sink := NewSink(Config{BufferSize: 1, FlushInterval: time.Hour, Sender: sender})
	defer sink.Close()

	sink.RecordBreach("t1", "s1", "r1", mode.Breach{Missing: mode.InvariantSafety, Priority: 1000})

	require.Equal(t, 1, sender.total())
	ev := sender.batches[0][0]
	assert.Equal(t, EventInvariantBreach, ev.Type)
	assert.Equal(t, "critical", ev.Payload["severity"])
}

func TestBreachSeverity(t *testing.T) {
	assert.Equal(t, "critical", BreachSeverity(mode.InvariantSafety))
	assert.Equal(t, "high", BreachSeverity(mode.InvariantUserCorrection))
	assert.Equal(t, "high", BreachSeverity(mode.InvariantHardConstraint))
	assert.Equal(t, "medium", BreachSeverity(mode.InvariantBlockingError))
}

func TestAMQPSenderPublishes(t *testing.T) {
	channel := &MockAMQPChannel{}
	dialer := &MockAMQPDialer{MockConnection: &MockAMQPConnection{MockChannel: channel}}

	sender, err := NewAMQPSenderWithDialer("amqp://localhost", "mnemo-telemetry", dialer)
	require.NoError(t, err)

	assert.True(t, dialer.DialCalled)
	assert.True(t, channel.QueueDeclareCalled)
	assert.Equal(t, "mnemo-telemetry", channel.LastQueueName)

	events := []Event{{Type: EventModeDetected, TenantID: "t1"}}
	require.NoError(t, sender.Send(context.Background(), events))

	require.Len(t, channel.PublishedMessages, 1)
	assert.Equal(t, "mnemo-telemetry", channel.LastKey)

	var body map[string][]Event
	require.NoError(t, json.Unmarshal(channel.PublishedMessages[0].Body, &body))
	require.Len(t, body["events"], 1)
	assert.Equal(t, EventModeDetected, body["events"][0].Type)
}

func TestAMQPSenderDialFailure(t *testing.T) {
	dialer := &MockAMQPDialer{DialErr: errors.New("broker unreachable")}
	_, err := NewAMQPSenderWithDialer("amqp://localhost", "q", dialer)
	assert.Error(t, err)
}

func TestAMQPSenderQueueDeclareFailureClosesConnection(t *testing.T) {
	channel := &MockAMQPChannel{QueueDeclareErr: errors.New("declare failed")}
	conn := &MockAMQPConnection{MockChannel: channel}
	dialer := &MockAMQPDialer{MockConnection: conn}

	_, err := NewAMQPSenderWithDialer("amqp://localhost", "q", dialer)
	assert.Error(t, err)
	assert.True(t, conn.CloseCalled)
	assert.True(t, channel.CloseCalled)
}

func TestAMQPSenderClose(t *testing.T) {
	channel := &MockAMQPChannel{}
	conn := &MockAMQPConnection{MockChannel: channel}
	dialer := &MockAMQPDialer{MockConnection: conn}

	sender, err := NewAMQPSenderWithDialer("amqp://localhost", "q", dialer)
	require.NoError(t, err)
	require.NoError(t, sender.Close())
	assert.True(t, channel.CloseCalled)
	assert.True(t, conn.CloseCalled)
}
