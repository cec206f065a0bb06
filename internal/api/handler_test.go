package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"miszen/internal/dispatcher"
	"miszen/internal/events"
	"miszen/internal/storage"
	"miszen/internal/zen"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ev events.Event) bool {
	args := m.Called(ev)
	return args.Bool(0)
}

func (m *MockQueue) Stats() dispatcher.Stats {
	args := m.Called()
	return args.Get(0).(dispatcher.Stats)
}

type fakeCommands struct {
	connected bool
	history   []zen.CommandResult
}

func (f *fakeCommands) IsConnected() bool { return f.connected }

func (f *fakeCommands) Stats() map[string]zen.CommandStats {
	return map[string]zen.CommandStats{"chat": {TotalExecutions: 2, Successful: 1, Failed: 1}}
}

func (f *fakeCommands) History(command string) []zen.CommandResult {
	var out []zen.CommandResult
	for _, r := range f.history {
		if command == "" || r.Command == command {
			out = append(out, r)
		}
	}
	return out
}

type fakeResults map[string]*storage.StoredResult

func (f fakeResults) GetLast(_ context.Context, command string) (*storage.StoredResult, error) {
	return f[command], nil
}

type fakeRecords struct {
	byType string
}

func (f *fakeRecords) Create(context.Context, *storage.EventRecord) error { return nil }

func (f *fakeRecords) ListRecent(context.Context, int) ([]storage.EventRecord, error) {
	return []storage.EventRecord{{EventID: "r1"}}, nil
}

func (f *fakeRecords) ListByType(_ context.Context, eventType string, _ int) ([]storage.EventRecord, error) {
	f.byType = eventType
	return []storage.EventRecord{{EventID: "t1", EventType: eventType}}, nil
}

func setupRouter(q *MockQueue, cmds *fakeCommands, results LastResultSource, records storage.EventRecordRepository) *gin.Engine {
	h := NewHandler(q, cmds, results, records)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("miszen_up 1\n"))
	})
	return NewRouter(h, metrics, logger)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitEvent(t *testing.T) {
	t.Run("Queued", func(t *testing.T) {
		q := new(MockQueue)
		q.On("Enqueue", mock.MatchedBy(func(ev events.Event) bool {
			return ev.ID == "ev-1" && ev.Type == events.TypeFileCreated && ev.FilePath() == "a.go"
		})).Return(true).Once()

		w := do(setupRouter(q, &fakeCommands{}, nil, nil), http.MethodPost, "/events",
			`{"event_id":"ev-1","event_type":"file_created","data":{"file_path":"a.go"},"metadata":{"source":"ide"}}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ev-1", resp["event_id"])
		assert.Equal(t, true, resp["queued"])
		q.AssertExpectations(t)
	})

	t.Run("Dropped", func(t *testing.T) {
		q := new(MockQueue)
		q.On("Enqueue", mock.Anything).Return(false).Once()

		w := do(setupRouter(q, &fakeCommands{}, nil, nil), http.MethodPost, "/events", `{"event_id":"dup","event_type":"x"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"queued":false`)
	})

	t.Run("Malformed", func(t *testing.T) {
		q := new(MockQueue)
		w := do(setupRouter(q, &fakeCommands{}, nil, nil), http.MethodPost, "/events", `{"event_type":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		q.AssertNotCalled(t, "Enqueue", mock.Anything)
	})

	t.Run("BadPriority", func(t *testing.T) {
		q := new(MockQueue)
		w := do(setupRouter(q, &fakeCommands{}, nil, nil), http.MethodPost, "/events",
			`{"event_type":"x","metadata":{"priority":"urgent"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealth(t *testing.T) {
	q := new(MockQueue)
	q.On("Stats").Return(dispatcher.Stats{IsRunning: true, QueueSize: 2})

	w := do(setupRouter(q, &fakeCommands{connected: true}, nil, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = do(setupRouter(q, &fakeCommands{connected: false}, nil, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"zen_connected":false`)
}

func TestStatsEndpoints(t *testing.T) {
	q := new(MockQueue)
	q.On("Stats").Return(dispatcher.Stats{ProcessedEvents: 9, FiltersCount: 1})
	r := setupRouter(q, &fakeCommands{}, nil, nil)

	w := do(r, http.MethodGet, "/stats/dispatcher", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed_events":9`)

	w = do(r, http.MethodGet, "/stats/commands", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_executions":2`)
}

func TestHistory(t *testing.T) {
	cmds := &fakeCommands{history: []zen.CommandResult{
		{Command: "chat", Success: true, Timestamp: time.Now()},
		{Command: "debug", Timestamp: time.Now()},
		{Command: "chat", Timestamp: time.Now()},
	}}
	r := setupRouter(new(MockQueue), cmds, nil, nil)

	w := do(r, http.MethodGet, "/history?command=chat", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = do(r, http.MethodGet, "/history?limit=1", "")
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(r, http.MethodGet, "/history?command=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLastResult(t *testing.T) {
	results := fakeResults{"debug": {Command: "debug", EventID: "e9", Success: true}}

	r := setupRouter(new(MockQueue), &fakeCommands{}, results, nil)
	w := do(r, http.MethodGet, "/commands/debug/last", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"event_id":"e9"`)

	w = do(r, http.MethodGet, "/commands/chat/last", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(setupRouter(new(MockQueue), &fakeCommands{}, nil, nil), http.MethodGet, "/commands/chat/last", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRecentEvents(t *testing.T) {
	records := &fakeRecords{}
	r := setupRouter(new(MockQueue), &fakeCommands{}, nil, records)

	w := do(r, http.MethodGet, "/events/recent", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"r1"`)

	w = do(r, http.MethodGet, "/events/recent?type=test_failed", "")
	assert.Contains(t, w.Body.String(), `"t1"`)
	assert.Equal(t, "test_failed", records.byType)

	w = do(setupRouter(new(MockQueue), &fakeCommands{}, nil, nil), http.MethodGet, "/events/recent", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	w := do(setupRouter(new(MockQueue), &fakeCommands{}, nil, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "miszen_up 1")
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
