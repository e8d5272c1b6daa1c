package claims

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is a process-local Registry for single-process runs and tests.
type MemoryRegistry struct {
	mu   sync.Mutex
	sets map[Namespace]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sets: make(map[Namespace]map[string]struct{})}
}

func (m *MemoryRegistry) Claim(_ context.Context, ns Namespace, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[ns]
	if !ok {
		set = make(map[string]struct{})
		m.sets[ns] = set
	}
	if _, held := set[key]; held {
		return false, nil
	}
	set[key] = struct{}{}
	return true, nil
}

func (m *MemoryRegistry) Release(_ context.Context, ns Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sets[ns], key)
	return nil
}

func (m *MemoryRegistry) IsClaimed(_ context.Context, ns Namespace, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, held := m.sets[ns][key]
	return held, nil
}

func (m *MemoryRegistry) Members(_ context.Context, ns Namespace) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := make([]string, 0, len(m.sets[ns]))
	for k := range m.sets[ns] {
		members = append(members, k)
	}
	sort.Strings(members)
	return members, nil
}
