package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dalepay/wallet-movements/internal/observability"
	"go.uber.org/zap"
)

// Sweeper drops movements nobody has touched for too long.
type Sweeper interface {
	SweepExpired(now time.Time) int
}

// ExpiryWorker periodically removes abandoned drafts and reviews so the
// account can open a new movement. Movements being submitted are kept.
type ExpiryWorker struct {
	sweeper      Sweeper
	logger       *zap.Logger
	pollInterval time.Duration
	now          func() time.Time
	stopCh       chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
}

func NewExpiryWorker(sweeper Sweeper, logger *zap.Logger) *ExpiryWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryWorker{
		sweeper:      sweeper,
		logger:       logger,
		pollInterval: time.Minute,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// WithPollInterval sets how often the sweep runs.
func (w *ExpiryWorker) WithPollInterval(interval time.Duration) *ExpiryWorker {
	w.pollInterval = interval
	return w
}

// WithClock overrides the clock passed to the sweeper.
func (w *ExpiryWorker) WithClock(now func() time.Time) *ExpiryWorker {
	w.now = now
	return w
}

// Start sweeps on every tick until Stop is called or the context is canceled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("expiry worker starting", zap.Duration("interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("expiry worker stopping", zap.String("reason", "context canceled"))
			return
		case <-w.stopCh:
			w.logger.Info("expiry worker stopping", zap.String("reason", "stop requested"))
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the worker to stop and waits for the current sweep to finish.
func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

// ProcessOnce runs a single sweep immediately and reports how many
// movements were removed. A panicking sweeper is reported as an error.
func (w *ExpiryWorker) ProcessOnce(ctx context.Context) (removed int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		observability.IncrementWorkerRun("expiry", result)
	}()

	removed = w.sweeper.SweepExpired(w.now())
	if removed > 0 {
		w.logger.Info("expired movements removed", zap.Int("count", removed))
	}
	return removed, nil
}

// Run starts the worker in a goroutine and returns a function that stops it.
func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ExpiryWorker) String() string {
	return fmt.Sprintf("ExpiryWorker(interval=%v)", w.pollInterval)
}
