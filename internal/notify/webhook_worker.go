package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/technoprod/backend-gestion/internal/lock"
)

const deliveryLockKey = "lock:webhook-deliveries"

// DeliveryWorker polls for due webhook deliveries and executes them. A
// distributed lock keeps a single worker active per deployment even when
// several replicas run.
type DeliveryWorker struct {
	Dispatcher *Dispatcher
	Locker     lock.Locker
	Interval   time.Duration
	Batch      int32
	LockTTL    time.Duration
	Log        zerolog.Logger
}

// Run blocks until ctx is cancelled, executing one delivery pass per tick.
func (w *DeliveryWorker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batch := w.Batch
	if batch <= 0 {
		batch = 20
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runPass(ctx, batch); err != nil && ctx.Err() == nil {
				w.Log.Error().Err(err).Msg("webhook delivery pass failed")
			}
		}
	}
}

func (w *DeliveryWorker) runPass(ctx context.Context, batch int32) error {
	if w.Locker.R == nil {
		return w.Dispatcher.WorkOnce(ctx, batch)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lockCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	err := w.Locker.WithLock(lockCtx, deliveryLockKey, ttl, func(ctx context.Context) error {
		return w.Dispatcher.WorkOnce(ctx, batch)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		// another replica holds the lock, skip this tick
		return nil
	}
	return err
}
