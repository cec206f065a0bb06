package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"miszen/internal/dispatcher"
	"miszen/internal/events"
	"miszen/internal/storage"
	"miszen/internal/zen"
)

// EventQueue is the dispatcher surface the API needs.
type EventQueue interface {
	Enqueue(ev events.Event) bool
	Stats() dispatcher.Stats
}

// CommandSource is the adapter surface the API needs.
type CommandSource interface {
	IsConnected() bool
	Stats() map[string]zen.CommandStats
	History(command string) []zen.CommandResult
}

// LastResultSource returns the most recent stored result of a command.
type LastResultSource interface {
	GetLast(ctx context.Context, command string) (*storage.StoredResult, error)
}

const maxEventBody = 1 << 20

type Handler struct {
	queue    EventQueue
	commands CommandSource
	results  LastResultSource
	records  storage.EventRecordRepository
}

func NewHandler(queue EventQueue, commands CommandSource, results LastResultSource, records storage.EventRecordRepository) *Handler {
	return &Handler{
		queue:    queue,
		commands: commands,
		results:  results,
		records:  records,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.POST("/events", h.SubmitEvent)
	r.GET("/events/recent", h.RecentEvents)
	r.GET("/stats/dispatcher", h.DispatcherStats)
	r.GET("/stats/commands", h.CommandStats)
	r.GET("/history", h.History)
	r.GET("/commands/:command/last", h.LastResult)
}

// Health reports zen connectivity and dispatcher state.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	connected := h.commands.IsConnected()
	stats := h.queue.Stats()

	status := http.StatusOK
	state := "ok"
	if !connected || !stats.IsRunning {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":             state,
		"zen_connected":      connected,
		"dispatcher_running": stats.IsRunning,
		"queue_size":         stats.QueueSize,
	})
}

// SubmitEvent decodes an event and queues it.
// POST /events
func (h *Handler) SubmitEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > maxEventBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "event too large"})
		return
	}

	var ev events.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	queued := h.queue.Enqueue(ev)
	status := http.StatusAccepted
	if !queued {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"event_id": ev.ID,
		"queued":   queued,
	})
}

// GET /stats/dispatcher
func (h *Handler) DispatcherStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// GET /stats/commands
func (h *Handler) CommandStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commands": h.commands.Stats()})
}

// History lists recorded executions, optionally for one command.
// GET /history?command=chat&limit=50
func (h *Handler) History(c *gin.Context) {
	command := c.Query("command")
	if command != "" && !zen.IsKnownCommand(command) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command: " + command})
		return
	}

	history := h.commands.History(command)
	if limit := queryInt(c, "limit", 0); limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(history),
		"history": history,
	})
}

// GET /commands/:command/last
func (h *Handler) LastResult(c *gin.Context) {
	if h.results == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "result storage not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	res, err := h.results.GetLast(ctx, c.Param("command"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result recorded"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// RecentEvents lists processed events, newest first.
// GET /events/recent?type=error_detected&limit=20
func (h *Handler) RecentEvents(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event records not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	limit := queryInt(c, "limit", 50)
	var (
		records []storage.EventRecord
		err     error
	)
	if eventType := c.Query("type"); eventType != "" {
		records, err = h.records.ListByType(ctx, eventType, limit)
	} else {
		records, err = h.records.ListRecent(ctx, limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
