package queue

import (
	"context"
	"sync"
	"time"
)

// LocalQueue is an in-process queue for single node deployments and tests.
type LocalQueue struct {
	mu          sync.Mutex
	jobs        []*Job
	delayed     int
	signal      chan struct{}
	pollTimeout time.Duration
}

func NewLocalQueue(pollTimeout time.Duration) *LocalQueue {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &LocalQueue{
		signal:      make(chan struct{}, 1),
		pollTimeout: pollTimeout,
	}
}

func (q *LocalQueue) Enqueue(_ context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		q.push(job)
		return nil
	}

	q.mu.Lock()
	q.delayed++
	q.mu.Unlock()

	time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.delayed--
		q.mu.Unlock()
		q.push(job)
	})
	return nil
}

func (q *LocalQueue) push(job *Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *LocalQueue) Dequeue(ctx context.Context) (*Job, error) {
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			more := len(q.jobs) > 0
			q.mu.Unlock()

			// wake another consumer for the rest
			if more {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.signal:
		}
	}
}

// Len returns the number of ready and delayed jobs.
func (q *LocalQueue) Len() (ready, delayed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), q.delayed
}
