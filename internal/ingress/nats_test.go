package ingress

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miszen/internal/events"
)

type recordingQueue struct {
	mu     sync.Mutex
	events []events.Event
	accept bool
}

func (q *recordingQueue) Enqueue(ev events.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return q.accept
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecoder_QueuesValidEvent(t *testing.T) {
	q := &recordingQueue{accept: true}
	var observed []bool
	d := NewDecoder(q, func(source string, ok bool) {
		assert.Equal(t, "nats", source)
		observed = append(observed, ok)
	}, quietLogger())

	ok := d.Handle(sourceNATS, []byte(`{"event_id":"n1","event_type":"test_failed","data":{"test_name":"TestX"}}`))
	assert.True(t, ok)
	require.Len(t, q.events, 1)
	assert.Equal(t, "n1", q.events[0].ID)
	assert.Equal(t, events.PriorityMedium, q.events[0].Metadata.Priority)
	assert.Equal(t, []bool{true}, observed)
}

func TestDecoder_DropsMalformed(t *testing.T) {
	q := &recordingQueue{accept: true}
	var observed []bool
	d := NewDecoder(q, func(_ string, ok bool) { observed = append(observed, ok) }, quietLogger())

	assert.False(t, d.Handle(sourceNATS, []byte("not json")))
	assert.False(t, d.Handle(sourceNATS, []byte(`{"event_type":"x","metadata":{"category":"nope"}}`)))
	assert.Equal(t, 0, q.len())
	assert.Equal(t, []bool{false, false}, observed)
}

func TestDecoder_ReportsDispatcherRejection(t *testing.T) {
	q := &recordingQueue{accept: false}
	d := NewDecoder(q, nil, quietLogger())

	assert.False(t, d.Handle(sourceNATS, []byte(`{"event_id":"dup","event_type":"x"}`)))
	assert.Equal(t, 1, q.len())
}

func TestSubscriber_Integration(t *testing.T) {
	url := os.Getenv("MISZEN_TEST_NATS_URL")
	if url == "" {
		t.Skip("MISZEN_TEST_NATS_URL not set, skipping NATS integration test")
	}

	q := &recordingQueue{accept: true}
	sub := NewSubscriber(url, "miszen_test_events", NewDecoder(q, nil, quietLogger()), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	assert.Eventually(t, func() bool {
		_ = nc.Publish("miszen_test_events", []byte(`{"event_type":"file_created","data":{"file_path":"a.go"}}`))
		_ = nc.Flush()
		return q.len() > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSubscriber_DrainsOnCancel(t *testing.T) {
	url := os.Getenv("MISZEN_TEST_NATS_URL")
	if url == "" {
		t.Skip("MISZEN_TEST_NATS_URL not set, skipping NATS integration test")
	}

	q := &recordingQueue{accept: true}
	sub := NewSubscriber(url, "miszen_test_drain", NewDecoder(q, nil, quietLogger()), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	// wait until the subscription is live
	require.Eventually(t, func() bool {
		_ = nc.Publish("miszen_test_drain", []byte(`{"event_id":"warmup","event_type":"x"}`))
		_ = nc.Flush()
		return q.len() > 0
	}, 5*time.Second, 50*time.Millisecond)
	before := q.len()

	const burst = 200
	for i := 0; i < burst; i++ {
		require.NoError(t, nc.Publish("miszen_test_drain", []byte(`{"event_type":"file_created"}`)))
	}
	require.NoError(t, nc.Flush())
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, before+burst, q.len())
}
