package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smartbch-indexer/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Job is the envelope stored in the queue. Args holds the JSON encoded
// arguments of the named handler.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewJob(name string, args interface{}) (*Job, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrapf(err, "NewJob(%s)", name)
	}
	return &Job{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Args, v); err != nil {
		return fmt.Errorf("Decode %s args: %w", j.Name, err)
	}
	return nil
}

func (j *Job) String() string {
	return fmt.Sprintf("%s[%s]", j.Name, j.ID)
}

// Enqueuer hands jobs to the workers. A positive delay postpones the job.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job, delay time.Duration) error
}

// Consumer blocks until a job is available. It returns a nil job when the
// poll timeout passes without work.
type Consumer interface {
	Dequeue(ctx context.Context) (*Job, error)
}

// Submit builds a job from name and args and enqueues it.
func Submit(ctx context.Context, q Enqueuer, name string, args interface{}, delay time.Duration) error {
	job, err := NewJob(name, args)
	if err != nil {
		return err
	}
	if err := q.Enqueue(ctx, job, delay); err != nil {
		return errors.Wrapf(err, "enqueue %s", name)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(name).Inc()
	return nil
}
