package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Outcome is the reported result of one job execution.
type Outcome interface {
	Status() string
	String() string
}

type HandlerFunc func(ctx context.Context, job *Job) Outcome

type failure struct {
	msg string
}

func (f failure) Status() string { return "failed" }
func (f failure) String() string { return f.msg }

// Mux routes jobs to handlers by name.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

func (m *Mux) Handle(name string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handlers[name]; ok {
		panic(fmt.Sprintf("queue: handler for %s registered twice", name))
	}
	m.handlers[name] = h
}

func (m *Mux) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler registered for the job. Unknown jobs and
// handler panics are reported as failed outcomes.
func (m *Mux) Dispatch(ctx context.Context, job *Job) (out Outcome) {
	m.mu.RLock()
	h, ok := m.handlers[job.Name]
	m.mu.RUnlock()
	if !ok {
		return failure{msg: fmt.Sprintf("unknown job %s", job.Name)}
	}

	defer func() {
		if r := recover(); r != nil {
			out = failure{msg: fmt.Sprintf("job %s panicked: %v", job, r)}
		}
	}()

	return h(ctx, job)
}
