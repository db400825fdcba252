package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xtmate/xtmate/internal/platform/database"
)

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// OnDrop is called for every event discarded before it was queued:
	// buffer full, or no organization to file it under.
	OnDrop func()
	// OnFlushError is called with the size of every batch the store rejected.
	OnFlushError func(lost int)
}

// AsyncLogger implements Logger with a buffered channel and background
// worker. Authorization denials and estimate changes are logged from the
// request path, so Log never waits on the database.
type AsyncLogger struct {
	now       func() time.Time
	ch        chan Event
	store     *Store
	db        database.Querier
	cfg       LoggerConfig
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewAsyncLogger creates and starts an async audit logger.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig) *AsyncLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &AsyncLogger{
		ch:     make(chan Event, cfg.BufferSize),
		store:  store,
		db:     db,
		cfg:    cfg,
		cancel: cancel,
		now:    time.Now,
	}

	l.wg.Add(1)
	go l.worker(ctx)

	return l
}

// Log stamps and enqueues an audit event. It never blocks the caller.
// Events without an organization are dropped here; queued, they would fail
// the whole batch they landed in.
func (l *AsyncLogger) Log(_ context.Context, event Event) {
	if event.OrganizationID == "" {
		slog.Warn("audit event has no organization, dropping", "action", event.Action, "resource_id", event.ResourceID)
		l.dropped()
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.now()
	}

	select {
	case l.ch <- event:
	default:
		slog.Warn("audit buffer full, dropping event", "action", event.Action, "organization_id", event.OrganizationID)
		l.dropped()
	}
}

func (l *AsyncLogger) dropped() {
	if l.cfg.OnDrop != nil {
		l.cfg.OnDrop()
	}
}

// Close flushes remaining events and stops the worker.
func (l *AsyncLogger) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.flush(l.drainAll())
	})
	return nil
}

func (l *AsyncLogger) worker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []Event

	for {
		select {
		case <-ctx.Done():
			batch = append(batch, l.drainAll()...)
			l.flush(batch)
			return

		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		}
	}
}

func (l *AsyncLogger) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.InsertBatch(ctx, l.db, events); err != nil {
		slog.Error("audit flush failed", "error", err, "count", len(events))
		if l.cfg.OnFlushError != nil {
			l.cfg.OnFlushError(len(events))
		}
	}
}

func (l *AsyncLogger) drainAll() []Event {
	var events []Event
	for {
		select {
		case e := <-l.ch:
			events = append(events, e)
		default:
			return events
		}
	}
}
