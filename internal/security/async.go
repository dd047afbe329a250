package security

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AsyncAuditor decouples audit writes from the request critical path.
// Submit never blocks the caller and never fails the request; records flow
// through a bounded queue to a single writer goroutine. Drops (full queue)
// and sink write failures are counted through Metrics and logged, so a
// persistent failure to audit is observable even though it is never fatal.
type AsyncAuditor struct {
	sink    Sink
	queue   chan Record
	logger  *slog.Logger
	metrics *Metrics

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// DefaultAuditQueueSize bounds the in-flight audit backlog.
const DefaultAuditQueueSize = 1024

// writeTimeout caps a single sink write so one stuck write cannot
// stall the whole trail.
const writeTimeout = 5 * time.Second

// NewAsyncAuditor starts the writer goroutine. queueSize <= 0 uses the default.
// metrics may be nil (counters skipped).
func NewAsyncAuditor(sink Sink, queueSize int, metrics *Metrics, logger *slog.Logger) *AsyncAuditor {
	if queueSize <= 0 {
		queueSize = DefaultAuditQueueSize
	}
	a := &AsyncAuditor{
		sink:    sink,
		queue:   make(chan Record, queueSize),
		logger:  logger,
		metrics: metrics,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Submit enqueues a record without blocking. A full queue drops the record
// and counts the drop; the user-facing request is never held up or failed
// by auditing.
func (a *AsyncAuditor) Submit(rec Record) {
	a.closeMu.Lock()
	if a.closed {
		a.closeMu.Unlock()
		a.countFailure()
		a.logger.Error("audit record submitted after close",
			slog.String("tool", rec.Tool),
			slog.String("user_id", rec.UserID),
		)
		return
	}

	select {
	case a.queue <- rec:
		a.closeMu.Unlock()
	default:
		a.closeMu.Unlock()
		a.countFailure()
		a.logger.Error("audit queue full, record dropped",
			slog.String("tool", rec.Tool),
			slog.String("user_id", rec.UserID),
			slog.String("outcome", rec.Outcome),
		)
	}
}

func (a *AsyncAuditor) run() {
	defer a.wg.Done()
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := a.sink.Write(ctx, rec)
		cancel()
		if err != nil {
			a.countFailure()
			a.logger.Error("audit write failed",
				slog.String("tool", rec.Tool),
				slog.String("user_id", rec.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if a.metrics != nil {
			a.metrics.RecordsWritten.Inc()
		}
	}
}

func (a *AsyncAuditor) countFailure() {
	if a.metrics != nil {
		a.metrics.WriteFailures.Inc()
	}
}

// Close drains the queue and stops the writer. Safe to call once.
func (a *AsyncAuditor) Close() error {
	a.closeMu.Lock()
	if a.closed {
		a.closeMu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.closeMu.Unlock()

	a.wg.Wait()
	return nil
}
