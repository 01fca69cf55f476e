package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Events() []Event {
	var out []Event
	for _, b := range s.Batches() {
		out = append(out, b...)
	}
	return out
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func taskDone(stage string) Event {
	return Event{Stage: stage, Kind: KindTaskDone, TS: time.Now()}
}

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 2, FlushInterval: time.Hour}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(taskDone("detail"))
	hub.Emit(taskDone("detail"))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesOnInterval(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushInterval: 10 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(taskDone("listing"))
	require.Eventually(t, func() bool {
		return len(sink.Events()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsQueueAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushInterval: time.Hour}, sink)
	for range 5 {
		hub.Emit(taskDone("detail"))
	}

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Events(), 5)
	require.True(t, sink.Closed())

	hub.Emit(taskDone("detail"))
	require.Len(t, sink.Events(), 5)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubPreservesEmissionOrder(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 3, FlushInterval: time.Hour}, sink)
	now := time.Now()
	hub.Emit(Event{Stage: "detail", Kind: KindStageStart, Total: 2, TS: now})
	hub.Emit(taskDone("detail"))
	hub.Emit(taskDone("detail"))
	hub.Emit(Event{Stage: "detail", Kind: KindStageDone, TS: now})
	require.NoError(t, hub.Close(context.Background()))

	kinds := make([]Kind, 0, 4)
	for _, evt := range sink.Events() {
		kinds = append(kinds, evt.Kind)
	}
	require.Equal(t, []Kind{KindStageStart, KindTaskDone, KindTaskDone, KindStageDone}, kinds)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Kind: KindTaskDone, TS: time.Now()})
	hub.Emit(Event{Stage: "detail", Kind: "BOGUS", TS: time.Now()})
	hub.Emit(Event{Stage: "detail", Kind: KindTaskDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Events())
}

func TestHubEmitDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(taskDone("detail"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.dropped.Load())
}

func TestHubKeepsDeliveringAfterSinkError(t *testing.T) {
	t.Parallel()

	failing := &stubSink{err: errors.New("terminal gone")}
	healthy := &stubSink{}
	hub := NewHub(Config{MaxBatch: 1, FlushInterval: time.Hour}, failing, nil, healthy)
	hub.Emit(taskDone("listing"))
	hub.Emit(taskDone("listing"))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, failing.Events(), 2)
	require.Len(t, healthy.Events(), 2)
}

func TestNilHubIsInert(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(taskDone("detail"))
	require.NoError(t, hub.Close(context.Background()))
}
