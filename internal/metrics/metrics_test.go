package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miszen/internal/dispatcher"
	"miszen/internal/events"
	"miszen/internal/zen"
)

func TestPostProcessor_CountsEventsAndCommands(t *testing.T) {
	m := New(nil)

	m.PostProcessor(dispatcher.ProcessingResult{
		Event: events.NewErrorEvent("boom", "error", nil),
		CommandResults: []zen.CommandResult{
			{Command: "debug", Success: true, ExecutionTime: 200 * time.Millisecond},
			{Command: "chat", Success: false, ExecutionTime: time.Second},
		},
		Success:        false,
		ProcessingTime: 1200 * time.Millisecond,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues(events.TypeErrorDetected, "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsExecuted.WithLabelValues("debug", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsExecuted.WithLabelValues("chat", "failure")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.CommandDuration))
}

func TestQueueDepthSampledOnScrape(t *testing.T) {
	depth := 3
	m := New(func() int { return depth })

	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
	depth = 7
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
}

func TestIngressReceived(t *testing.T) {
	m := New(nil)
	m.IngressReceived("nats", true)
	m.IngressReceived("nats", false)
	m.IngressReceived("nats", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngressMessages.WithLabelValues("nats", "rejected")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.CommandsExecuted.WithLabelValues("version", "success").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `miszen_commands_executed_total{command="version",status="success"} 1`))
	assert.Contains(t, body, "miszen_dispatcher_queue_depth")
}
