package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("repository is closed")

// ResultCache is the fast tier. *ResultRedisRepo implements it.
type ResultCache interface {
	SaveLast(ctx context.Context, data *StoredResult) error
	GetLast(ctx context.Context, command string) (*StoredResult, error)
	Close() error
}

// ResultStore is the durable tier. *ResultPostgresRepo implements it.
type ResultStore interface {
	SaveResult(ctx context.Context, data *StoredResult) error
	BatchInsert(ctx context.Context, batch []*StoredResult) error
	LatestByCommand(ctx context.Context, command string) (*StoredResult, error)
	ListByCommand(ctx context.Context, command string, limit int) ([]*StoredResult, error)
	Close() error
}

type HybridOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	Logger        *slog.Logger
}

// HybridResultRepository writes the cache immediately and batches writes to
// the durable store on a background writer. Either tier may be nil.
type HybridResultRepository struct {
	cache     ResultCache
	store     ResultStore
	writeChan chan *StoredResult
	stopChan  chan struct{}
	doneChan  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	closed    atomic.Bool
	mu        sync.RWMutex // held shared while enqueueing
	opts      HybridOptions
	logger    *slog.Logger
}

func NewHybridResultRepository(cache ResultCache, store ResultStore, opts HybridOptions) *HybridResultRepository {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HybridResultRepository{
		cache:     cache,
		store:     store,
		writeChan: make(chan *StoredResult, opts.QueueSize),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Save caches data and queues it for the durable store. When the queue is
// full it falls back to a direct write with a short timeout.
func (r *HybridResultRepository) Save(ctx context.Context, data *StoredResult) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return ErrClosed
	}

	if r.cache != nil {
		if err := r.cache.SaveLast(ctx, data); err != nil {
			// the durable tier still gets the record
			r.logger.Error("cache_save_failed", "command", data.Command, "error", err)
		}
	}
	if r.store == nil {
		return nil
	}

	queueDepth := len(r.writeChan)
	if queueDepth > cap(r.writeChan)/2 {
		r.logger.Warn("write_queue_high_watermark", "queue_depth", queueDepth)
	}

	select {
	case r.writeChan <- data:
		return nil
	default:
	}

	r.logger.Warn("write_queue_full_direct_write", "command", data.Command)
	writeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := r.store.SaveResult(writeCtx, data); err != nil {
		r.logger.Error("postgres_direct_write_failed", "error", err)
		return err
	}
	return nil
}

// GetLast reads the cache first and falls back to the durable store.
func (r *HybridResultRepository) GetLast(ctx context.Context, command string) (*StoredResult, error) {
	if r.cache != nil {
		data, err := r.cache.GetLast(ctx, command)
		if err == nil && data != nil {
			return data, nil
		}
	}
	if r.store == nil {
		return nil, nil
	}

	r.logger.Debug("cache_miss_fallback_to_postgres", "command", command)
	data, err := r.store.LatestByCommand(ctx, command)
	if err != nil {
		return nil, err
	}
	if data != nil && r.cache != nil {
		if err := r.cache.SaveLast(ctx, data); err != nil {
			r.logger.Debug("cache_warm_failed", "command", command, "error", err)
		}
	}
	return data, nil
}

// List reads the durable store only.
func (r *HybridResultRepository) List(ctx context.Context, command string, limit int) ([]*StoredResult, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.ListByCommand(ctx, command, limit)
}

// Start launches the batch writer. Calling it more than once is a no-op.
func (r *HybridResultRepository) Start() {
	r.startOnce.Do(func() {
		if r.closed.Load() {
			return
		}
		r.started.Store(true)
		go r.runBatchWriter()
	})
}

func (r *HybridResultRepository) runBatchWriter() {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*StoredResult, 0, r.opts.BatchSize)
	r.logger.Info("batch_writer_started",
		"interval", r.opts.FlushInterval.String(),
		"batch_size", r.opts.BatchSize,
	)

	for {
		select {
		case <-r.stopChan:
			batch = r.drain(batch)
			r.logger.Info("batch_writer_shutting_down", "remaining", len(batch))
			r.flushBatch(batch)
			return

		case data := <-r.writeChan:
			batch = append(batch, data)
			if len(batch) >= r.opts.BatchSize {
				r.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.logger.Info("periodic_batch_flush", "count", len(batch))
				r.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// drain appends everything still queued to batch.
func (r *HybridResultRepository) drain(batch []*StoredResult) []*StoredResult {
	for {
		select {
		case data := <-r.writeChan:
			batch = append(batch, data)
		default:
			return batch
		}
	}
}

func (r *HybridResultRepository) flushBatch(batch []*StoredResult) {
	if len(batch) == 0 || r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.store.BatchInsert(ctx, batch); err != nil {
		r.logger.Error("batch_insert_failed", "count", len(batch), "error", err)
		return
	}
	r.logger.Info("batch_insert_success",
		"count", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Close flushes queued results and closes both tiers. Safe to call more
// than once.
func (r *HybridResultRepository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed.Store(true)
		r.mu.Unlock()

		close(r.stopChan)
		if r.started.Load() {
			<-r.doneChan
		} else {
			r.flushBatch(r.drain(nil))
		}
		err = r.closeTiers()
	})
	return err
}

func (r *HybridResultRepository) closeTiers() error {
	var errs []error
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			r.logger.Error("failed_to_close_redis", "error", err)
			errs = append(errs, err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("failed_to_close_postgres", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
