package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/inci-scraper/pkg/storage"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// UnitFunc processes one unit with the worker's own store handle.
type UnitFunc[T any] func(ctx context.Context, h *storage.Handle, unit T) error

// PoolResult counts finished units.
type PoolResult struct {
	Processed int
	Failed    int
}

// RunPool processes units with at most width workers, each holding its own
// store handle for its whole life. A unit error or panic is logged and
// counted; only fatal storage errors stop the pool and are returned.
// Cancelling ctx stops dispatch and returns ctx.Err().
func RunPool[T any](ctx context.Context, handles storage.HandleSource, width int, units []T, name string, log *logrus.Entry, fn UnitFunc[T]) (PoolResult, error) {
	if len(units) == 0 {
		return PoolResult{}, nil
	}
	if width < 1 {
		width = 1
	}
	if width > len(units) {
		width = len(units)
	}

	var processed, failed, done atomic.Int64
	total := len(units)
	queue := make(chan T)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width + 1)

	g.Go(func() error {
		defer close(queue)
		for _, u := range units {
			select {
			case queue <- u:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 1; w <= width; w++ {
		workerLog := log.WithField("worker_id", w)
		g.Go(func() error {
			h, err := handles.Acquire(gctx)
			if err != nil {
				// Drain so the dispatcher is not blocked by a dead worker.
				for range queue {
				}
				return err
			}
			defer h.Release()
			workerLog.Debug("Worker started")

			for u := range queue {
				if gctx.Err() != nil {
					continue
				}
				start := time.Now()
				err := runUnit(gctx, h, u, workerLog, fn)
				switch {
				case err == nil:
					processed.Add(1)
				case gctx.Err() != nil:
					// Interrupted; the unit's checkpoint was not advanced.
				case isFatal(err):
					failed.Add(1)
					workerLog.WithField("category", utils.CategorizeError(err)).Errorf("Fatal unit error: %v", err)
					return err
				default:
					failed.Add(1)
					workerLog.WithFields(logrus.Fields{
						"category": utils.CategorizeError(err),
						"duration": time.Since(start).String(),
					}).Warnf("Unit failed: %v", err)
				}
				logProgress(log, name, int(done.Add(1)), total)
			}
			workerLog.Debug("Worker finished")
			return nil
		})
	}

	err := g.Wait()
	res := PoolResult{Processed: int(processed.Load()), Failed: int(failed.Load())}
	if err != nil {
		return res, err
	}
	return res, ctx.Err()
}

func runUnit[T any](ctx context.Context, h *storage.Handle, u T, log *logrus.Entry, fn UnitFunc[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in pool unit")
		}
	}()
	return fn(ctx, h, u)
}
