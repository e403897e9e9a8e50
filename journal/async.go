package journal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"go.uber.org/zap"
)

var ErrWriterClosed = errors.New("journal writer closed")

type job struct {
	name string
	fn   func(ctx context.Context, s Store) error
}

// AsyncWriter queues store writes for a single background worker so the risk
// cycle never waits on the database. Writes are retried a bounded number of
// times; when the queue is full new writes are dropped.
type AsyncWriter struct {
	store   Store
	log     *zap.Logger
	retries int
	delay   time.Duration
	onError func(name string, err error)

	mu     sync.RWMutex
	closed bool
	queue  chan job

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Int64
}

type AsyncOption func(*AsyncWriter)

func WithQueueSize(n int) AsyncOption {
	return func(w *AsyncWriter) {
		if n > 0 {
			w.queue = make(chan job, n)
		}
	}
}

func WithRetry(retries int, delay time.Duration) AsyncOption {
	return func(w *AsyncWriter) {
		w.retries = max(0, retries)
		w.delay = delay
	}
}

func WithWriterLogger(l *zap.Logger) AsyncOption {
	return func(w *AsyncWriter) {
		if l != nil {
			w.log = l
		}
	}
}

// WithErrorHandler is called once per write that exhausted its retries.
func WithErrorHandler(fn func(name string, err error)) AsyncOption {
	return func(w *AsyncWriter) { w.onError = fn }
}

func NewAsyncWriter(store Store, opts ...AsyncOption) *AsyncWriter {
	ctx, cancel := context.WithCancel(context.Background())
	w := &AsyncWriter{
		store:   store,
		log:     zap.NewNop(),
		retries: 3,
		delay:   100 * time.Millisecond,
		queue:   make(chan job, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.Named("journal")
	go w.loop()
	return w
}

// Submit queues fn without blocking. It reports false when the write was
// dropped.
func (w *AsyncWriter) Submit(name string, fn func(ctx context.Context, s Store) error) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.queue <- job{name: name, fn: fn}:
		return true
	default:
		w.dropped.Add(1)
		w.log.Warn("journal queue full, dropping write", zap.String("write", name))
		return false
	}
}

// VaR journals one cycle's results as a single write. Stale results were
// stored in the cycle that produced them and are skipped.
func (w *AsyncWriter) VaR(results map[valueatrisk.Method]valueatrisk.Result) bool {
	batch := make([]valueatrisk.Result, 0, len(results))
	for _, m := range valueatrisk.Methods {
		if r, ok := results[m]; ok && !r.Stale {
			batch = append(batch, r)
		}
	}
	if len(batch) == 0 {
		return true
	}
	return w.Submit("var_calculation", func(ctx context.Context, s Store) error {
		return s.StoreVaRCalculations(ctx, batch)
	})
}

func (w *AsyncWriter) Correlations(m correlation.Matrix) bool {
	return w.Submit("correlation_data", func(ctx context.Context, s Store) error {
		return s.StoreCorrelationData(ctx, m)
	})
}

func (w *AsyncWriter) Alert(a risk.Alert) bool {
	return w.Submit("risk_alert", func(ctx context.Context, s Store) error {
		_, err := s.StoreRiskAlert(ctx, a)
		return err
	})
}

func (w *AsyncWriter) Adjustment(ts time.Time, r correlation.Recommendation) bool {
	return w.Submit("position_adjustment", func(ctx context.Context, s Store) error {
		_, err := s.StorePositionAdjustment(ctx, ts, r)
		return err
	})
}

// Dropped counts writes lost to a full queue or a closed writer.
func (w *AsyncWriter) Dropped() int64 {
	return w.dropped.Load()
}

func (w *AsyncWriter) loop() {
	defer close(w.done)
	for j := range w.queue {
		w.run(j)
	}
}

func (w *AsyncWriter) run(j job) {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if err = j.fn(w.ctx, w.store); err == nil {
			return
		}
		if w.ctx.Err() != nil {
			break
		}
		w.log.Warn("journal write failed",
			zap.String("write", j.name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt == w.retries {
			break
		}
		select {
		case <-time.After(w.delay * time.Duration(attempt+1)):
		case <-w.ctx.Done():
		}
	}
	w.log.Error("journal write abandoned", zap.String("write", j.name), zap.Error(err))
	if w.onError != nil {
		w.onError(j.name, err)
	}
}

// Close stops accepting writes and waits for the queue to drain. When ctx
// ends first, in-flight retries are cancelled and ctx's error is returned.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}
