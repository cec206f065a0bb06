package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"miszen/internal/events"
	"miszen/internal/zen"

	"github.com/google/uuid"
)

// DefaultPollInterval bounds how long an idle worker waits before checking
// for a stop request.
const DefaultPollInterval = time.Second

// Executor runs a single zen command. *zen.Adapter implements it.
type Executor interface {
	Execute(ctx context.Context, command string, params map[string]any) zen.CommandResult
}

// MappingSource resolves an event type to its commands and conditions.
// *config.Config implements it.
type MappingSource interface {
	EventCommands(eventType string) []string
	EventConditions(eventType string) map[string]any
}

type (
	Filter        func(events.Event) bool
	PreProcessor  func(events.Event) events.Event
	PostProcessor func(ProcessingResult)
)

// ProcessingResult is the outcome of routing one event.
type ProcessingResult struct {
	Event             events.Event        `json:"event"`
	TriggeredCommands []string            `json:"triggered_commands"`
	CommandResults    []zen.CommandResult `json:"command_results"`
	Success           bool                `json:"success"`
	ProcessingTime    time.Duration       `json:"processing_time"`
	Error             string              `json:"error,omitempty"`
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	QueueSize           int  `json:"queue_size"`
	ProcessedEvents     int  `json:"processed_events"`
	IsRunning           bool `json:"is_running"`
	FiltersCount        int  `json:"filters_count"`
	PreProcessorsCount  int  `json:"pre_processors_count"`
	PostProcessorsCount int  `json:"post_processors_count"`
}

// Options tunes a Dispatcher.
type Options struct {
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Dispatcher queues events and routes them to zen commands on a single
// worker goroutine. Enqueue never blocks.
type Dispatcher struct {
	executor     Executor
	mappings     MappingSource
	logger       *slog.Logger
	pollInterval time.Duration

	mu        sync.Mutex
	queue     []events.Event
	pending   map[string]struct{} // queued or in flight
	processed *seenSet
	filters   []Filter
	pre       []PreProcessor
	post      []PostProcessor
	running   bool
	startMu   sync.Mutex // serialises Start while it waits for the old worker
	stop      chan struct{}
	done      chan struct{}

	wake chan struct{}
}

func New(executor Executor, mappings MappingSource, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		executor:     executor,
		mappings:     mappings,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		pending:      make(map[string]struct{}),
		processed:    newSeenSet(),
		wake:         make(chan struct{}, 1),
	}
}

func (d *Dispatcher) AddFilter(f Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filters = append(d.filters, f)
}

func (d *Dispatcher) AddPreProcessor(p PreProcessor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pre = append(d.pre, p)
}

func (d *Dispatcher) AddPostProcessor(p PostProcessor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.post = append(d.post, p)
}

// Enqueue queues ev unless its id was already seen or a filter rejects it.
// It reports whether the event was queued. An empty id is replaced with a
// fresh one.
func (d *Dispatcher) Enqueue(ev events.Event) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	d.mu.Lock()
	if d.isDuplicateLocked(ev.ID) {
		d.mu.Unlock()
		d.logger.Debug("duplicate_event_skipped", "event_id", ev.ID)
		return false
	}
	filters := append([]Filter(nil), d.filters...)
	d.mu.Unlock()

	for i, f := range filters {
		if !d.runFilter(i, f, ev) {
			d.logger.Debug("event_filtered_out", "event_id", ev.ID, "filter", i)
			return false
		}
	}

	d.mu.Lock()
	// a concurrent Enqueue may have taken the id while filters ran
	if d.isDuplicateLocked(ev.ID) {
		d.mu.Unlock()
		d.logger.Debug("duplicate_event_skipped", "event_id", ev.ID)
		return false
	}
	d.queue = append(d.queue, ev)
	d.pending[ev.ID] = struct{}{}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	d.logger.Debug("event_queued", "event_id", ev.ID, "event_type", ev.Type)
	return true
}

// Start launches the worker. Calling Start on a running dispatcher is a no-op.
// If a previous worker is still finishing its in-flight event after Stop,
// Start waits for it so there is never more than one worker.
func (d *Dispatcher) Start() {
	d.startMu.Lock()
	defer d.startMu.Unlock()

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	prev := d.done
	d.mu.Unlock()

	if prev != nil {
		<-prev
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
	d.logger.Info("dispatcher_started")
}

// Stop asks the worker to exit and waits for it. An event already being
// processed runs to completion. Queued events stay queued.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done
	d.logger.Info("dispatcher_stopped")
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// QueueSize is the number of events waiting for the worker.
func (d *Dispatcher) QueueSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		QueueSize:           len(d.queue),
		ProcessedEvents:     d.processed.len(),
		IsRunning:           d.running,
		FiltersCount:        len(d.filters),
		PreProcessorsCount:  len(d.pre),
		PostProcessorsCount: len(d.post),
	}
}

func (d *Dispatcher) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		ev, ok := d.dequeue()
		if !ok {
			select {
			case <-stop:
				return
			case <-d.wake:
			case <-ticker.C:
			}
			continue
		}
		d.handle(ev)
	}
}

func (d *Dispatcher) dequeue() (events.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return events.Event{}, false
	}
	ev := d.queue[0]
	d.queue[0] = events.Event{}
	d.queue = d.queue[1:]
	return ev, true
}

func (d *Dispatcher) handle(ev events.Event) {
	result := d.Process(context.Background(), ev)

	d.mu.Lock()
	d.processed.add(ev.ID)
	delete(d.pending, ev.ID)
	post := append([]PostProcessor(nil), d.post...)
	d.mu.Unlock()

	for i, p := range post {
		d.runPostProcessor(i, p, result)
	}
}

// Process routes ev synchronously without touching the queue or the dedup
// set. The worker uses it for every dequeued event.
func (d *Dispatcher) Process(ctx context.Context, ev events.Event) ProcessingResult {
	start := time.Now()

	d.mu.Lock()
	pre := append([]PreProcessor(nil), d.pre...)
	d.mu.Unlock()

	ev, err := d.preprocess(pre, ev)
	if err != nil {
		d.logger.Error("event_preprocess_failed", "event_id", ev.ID, "error", err)
		return ProcessingResult{
			Event:          ev,
			Success:        false,
			ProcessingTime: time.Since(start),
			Error:          err.Error(),
		}
	}

	commands := d.mappings.EventCommands(ev.Type)
	conditions := d.mappings.EventConditions(ev.Type)

	if !ev.MatchesConditions(conditions) {
		d.logger.Debug("event_conditions_not_met", "event_id", ev.ID, "event_type", ev.Type)
		return ProcessingResult{
			Event:          ev,
			Success:        true,
			ProcessingTime: time.Since(start),
		}
	}

	results := make([]zen.CommandResult, 0, len(commands))
	success := true
	for _, cmd := range commands {
		res := d.execute(ctx, cmd, BuildParams(cmd, ev))
		results = append(results, res)
		success = success && res.Success
		d.logger.Info("event_command_executed",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"command", cmd,
			"success", res.Success,
		)
	}

	return ProcessingResult{
		Event:             ev,
		TriggeredCommands: append([]string(nil), commands...),
		CommandResults:    results,
		Success:           success,
		ProcessingTime:    time.Since(start),
	}
}

func (d *Dispatcher) isDuplicateLocked(id string) bool {
	if d.processed.contains(id) {
		return true
	}
	_, ok := d.pending[id]
	return ok
}

func (d *Dispatcher) preprocess(pre []PreProcessor, ev events.Event) (out events.Event, err error) {
	out = ev
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pre-processor panic: %v", r)
		}
	}()
	for _, p := range pre {
		out = p(out)
	}
	return out, nil
}

func (d *Dispatcher) execute(ctx context.Context, cmd string, params map[string]any) (res zen.CommandResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command_panic", "command", cmd, "panic", fmt.Sprint(r))
			res = zen.CommandResult{
				Command:       cmd,
				Error:         fmt.Sprintf("unexpected error in %s: %v", cmd, r),
				ExecutionTime: time.Since(start),
				Timestamp:     start,
			}
		}
	}()
	return d.executor.Execute(ctx, cmd, params)
}

func (d *Dispatcher) runFilter(index int, f Filter, ev events.Event) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event_filter_panic", "filter", index, "panic", fmt.Sprint(r))
			keep = false
		}
	}()
	return f(ev)
}

func (d *Dispatcher) runPostProcessor(index int, p PostProcessor, result ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("post_processor_panic", "post_processor", index, "panic", fmt.Sprint(r))
		}
	}()
	p(result)
}
