package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sparkgate/sparkgate/internal/metrics"
)

// BatchInserter is the interface used by Collector to persist charge records.
// It exists to allow testing without a real database.
type BatchInserter interface {
	BatchInsert(ctx context.Context, recs []ChargeRecord) error
}

// Collector buffers charge records in memory and periodically flushes them to
// the store in batches. It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	buffer        []ChargeRecord
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	mx            *metrics.Metrics
}

// NewCollector creates a new Collector that flushes to the given store when
// the buffer reaches batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	return &Collector{
		store:         store,
		buffer:        make([]ChargeRecord, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// WithMetrics attaches buffer and flush instrumentation.
func (c *Collector) WithMetrics(m *metrics.Metrics) *Collector {
	c.mx = m
	return c
}

// Start begins a background goroutine that flushes buffered records on a
// timer. It blocks until Stop is called or the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// Record adds a charge record to the buffer. If the buffer reaches batchSize,
// a flush is triggered immediately.
func (c *Collector) Record(rec ChargeRecord) {
	c.mu.Lock()
	c.buffer = append(c.buffer, rec)
	buffered := len(c.buffer)
	shouldFlush := buffered >= c.batchSize
	c.mu.Unlock()

	if c.mx != nil {
		c.mx.CollectorChargesTotal.Inc()
		c.mx.CollectorBufferSize.Set(float64(buffered))
	}

	if shouldFlush {
		c.flush()
	}
}

// flush drains all buffered records and writes them to the store. It logs
// errors rather than returning them so settlement is never blocked on the
// database.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]ChargeRecord, 0, c.batchSize)
	c.mu.Unlock()

	if c.mx != nil {
		c.mx.CollectorBufferSize.Set(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := "ok"
	if err := c.store.BatchInsert(ctx, batch); err != nil {
		status = "error"
		slog.Error("failed to flush charge records", "count", len(batch), "error", err)
	}
	if c.mx != nil {
		c.mx.CollectorFlushesTotal.WithLabelValues(status).Inc()
	}
}

// Stop signals the background goroutine to exit and performs a final flush.
func (c *Collector) Stop() {
	close(c.done)
}
