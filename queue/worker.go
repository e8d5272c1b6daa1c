package queue

import (
	"context"
	"time"

	"smartbch-indexer/logger"
	"smartbch-indexer/metrics"

	"golang.org/x/sync/errgroup"
)

const dequeueErrorPause = time.Second

// Worker pulls jobs from a Consumer and runs them through a Mux on a fixed
// number of goroutines.
type Worker struct {
	consumer Consumer
	mux      *Mux
	workers  int
}

func NewWorker(consumer Consumer, mux *Mux, workers int) *Worker {
	workers = max(workers, 1)
	return &Worker{
		consumer: consumer,
		mux:      mux,
		workers:  workers,
	}
}

// Run blocks until ctx is cancelled. Jobs already started are finished.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("Starting %d queue workers for jobs %v", w.workers, w.mux.Names())

	g, ctx := errgroup.WithContext(ctx)
	for range w.workers {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.consumer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Dequeue failed: %s", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueErrorPause):
			}
			continue
		}
		if job == nil {
			continue
		}

		w.run(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) run(ctx context.Context, job *Job) {
	started := time.Now()
	out := w.mux.Dispatch(ctx, job)
	metrics.ObserveJob(job.Name, out.Status(), started)

	switch out.Status() {
	case "ok", "skipped", "contended":
		logger.Debug("%s: %s", job, out)
	case "failed", "exhausted":
		logger.Error("%s: %s", job, out)
	default:
		logger.Info("%s: %s", job, out)
	}
}
