package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miszen/internal/dispatcher"
	"miszen/internal/events"
	"miszen/internal/zen"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memCache struct {
	mu      sync.Mutex
	last    map[string]*StoredResult
	saveErr error
	closed  bool
}

func newMemCache() *memCache { return &memCache{last: map[string]*StoredResult{}} }

func (c *memCache) SaveLast(_ context.Context, data *StoredResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.last[data.Command] = data
	return nil
}

func (c *memCache) GetLast(_ context.Context, command string) (*StoredResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[command], nil
}

func (c *memCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type memStore struct {
	mu       sync.Mutex
	direct   []*StoredResult
	batches  [][]*StoredResult
	latest   *StoredResult
	batchErr error
	closed   bool
}

func (s *memStore) SaveResult(_ context.Context, data *StoredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct = append(s.direct, data)
	return nil
}

func (s *memStore) BatchInsert(_ context.Context, batch []*StoredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return s.batchErr
	}
	s.batches = append(s.batches, append([]*StoredResult(nil), batch...))
	return nil
}

func (s *memStore) LatestByCommand(_ context.Context, _ string) (*StoredResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

func (s *memStore) ListByCommand(_ context.Context, _ string, _ int) ([]*StoredResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*StoredResult
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) batchedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func result(cmd string) *StoredResult {
	return &StoredResult{EventID: "e", Command: cmd, Success: true, ExecutedAt: time.Now()}
}

func TestHybrid_SaveCachesAndBatches(t *testing.T) {
	cache, store := newMemCache(), &memStore{}
	repo := NewHybridResultRepository(cache, store, HybridOptions{BatchSize: 2, FlushInterval: time.Hour, Logger: quietLogger()})
	repo.Start()

	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, result("chat")))
	require.NoError(t, repo.Save(ctx, result("debug")))

	assert.Eventually(t, func() bool { return store.batchedCount() == 2 }, time.Second, 5*time.Millisecond)

	last, err := repo.GetLast(ctx, "debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", last.Command)

	require.NoError(t, repo.Close())
	assert.True(t, cache.closed)
	assert.True(t, store.closed)
}

func TestHybrid_CloseFlushesPartialBatch(t *testing.T) {
	store := &memStore{}
	repo := NewHybridResultRepository(nil, store, HybridOptions{BatchSize: 100, FlushInterval: time.Hour, Logger: quietLogger()})
	repo.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Save(context.Background(), result("chat")))
	}
	require.NoError(t, repo.Close())
	assert.Equal(t, 3, store.batchedCount())

	assert.ErrorIs(t, repo.Save(context.Background(), result("chat")), ErrClosed)
	assert.NoError(t, repo.Close(), "second Close is a no-op")
}

func TestHybrid_CloseWithoutStartStillFlushes(t *testing.T) {
	store := &memStore{}
	repo := NewHybridResultRepository(nil, store, HybridOptions{Logger: quietLogger()})

	require.NoError(t, repo.Save(context.Background(), result("planner")))
	require.NoError(t, repo.Close())
	assert.Equal(t, 1, store.batchedCount())
}

func TestHybrid_FullQueueWritesDirectly(t *testing.T) {
	store := &memStore{}
	repo := NewHybridResultRepository(nil, store, HybridOptions{QueueSize: 1, Logger: quietLogger()})

	require.NoError(t, repo.Save(context.Background(), result("a")))
	require.NoError(t, repo.Save(context.Background(), result("b")))

	store.mu.Lock()
	require.Len(t, store.direct, 1)
	assert.Equal(t, "b", store.direct[0].Command)
	store.mu.Unlock()
}

func TestHybrid_CacheFailureStillQueues(t *testing.T) {
	cache, store := newMemCache(), &memStore{}
	cache.saveErr = errors.New("redis down")
	repo := NewHybridResultRepository(cache, store, HybridOptions{Logger: quietLogger()})

	require.NoError(t, repo.Save(context.Background(), result("chat")))
	require.NoError(t, repo.Close())
	assert.Equal(t, 1, store.batchedCount())
}

func TestHybrid_GetLastFallsBackAndWarmsCache(t *testing.T) {
	cache := newMemCache()
	store := &memStore{latest: result("tracer")}
	repo := NewHybridResultRepository(cache, store, HybridOptions{Logger: quietLogger()})

	got, err := repo.GetLast(context.Background(), "tracer")
	require.NoError(t, err)
	require.NotNil(t, got)

	cached, _ := cache.GetLast(context.Background(), "tracer")
	assert.NotNil(t, cached)
}

func TestHybrid_NoTiers(t *testing.T) {
	repo := NewHybridResultRepository(nil, nil, HybridOptions{Logger: quietLogger()})
	require.NoError(t, repo.Save(context.Background(), result("x")))

	got, err := repo.GetLast(context.Background(), "x")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, repo.Close())
}

func TestNilRedisRepoIsNoop(t *testing.T) {
	var r *ResultRedisRepo
	assert.NoError(t, r.SaveLast(context.Background(), result("x")))
	got, err := r.GetLast(context.Background(), "x")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, r.Close())
}

func TestParseResultFields(t *testing.T) {
	got := parseResultFields("debug", map[string]string{
		"event_id":          "ev",
		"success":           "true",
		"result":            `{"ok":1}`,
		"execution_time_ms": "1500",
		"executed_at":       "2025-01-02T03:04:05Z",
	})
	assert.Equal(t, "ev", got.EventID)
	assert.True(t, got.Success)
	assert.Equal(t, 1500*time.Millisecond, got.ExecutionTime)
	assert.Equal(t, 2025, got.ExecutedAt.Year())
}

type memEventRecords struct {
	mu      sync.Mutex
	records []EventRecord
}

func (m *memEventRecords) Create(_ context.Context, record *EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *record)
	return nil
}

func (m *memEventRecords) ListRecent(_ context.Context, _ int) ([]EventRecord, error) {
	return m.records, nil
}

func (m *memEventRecords) ListByType(_ context.Context, _ string, _ int) ([]EventRecord, error) {
	return m.records, nil
}

func TestResultRecorder(t *testing.T) {
	store := &memStore{}
	repo := NewHybridResultRepository(nil, store, HybridOptions{Logger: quietLogger()})
	records := &memEventRecords{}
	rec := NewResultRecorder(repo, records, quietLogger())

	ev := events.NewErrorEvent("nil deref", "critical", nil)
	rec.PostProcessor(dispatcher.ProcessingResult{
		Event:             ev,
		TriggeredCommands: []string{"debug", "tracer"},
		CommandResults: []zen.CommandResult{
			{Command: "debug", Success: true},
			{Command: "tracer", Error: "boom"},
		},
		ProcessingTime: 40 * time.Millisecond,
	})
	require.NoError(t, repo.Close())

	assert.Equal(t, 2, store.batchedCount())
	require.Len(t, records.records, 1)
	r := records.records[0]
	assert.Equal(t, ev.ID, r.EventID)
	assert.Equal(t, "critical", r.Priority)
	assert.Equal(t, []string{"debug", "tracer"}, r.Commands())
	assert.Equal(t, int64(40), r.ProcessingMS)
}

func TestCloseGorm_Nil(t *testing.T) {
	assert.NoError(t, CloseGorm(nil))
}
