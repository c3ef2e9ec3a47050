package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest status per name and is safe for concurrent use
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update stores status under name
func (m *Monitor) Update(name string, status Status) {
	status.Name = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// Get returns the stored status for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Remove forgets name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Names returns the monitored names in sorted order
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for n := range m.statuses {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AggregateHealth folds every stored status into one, ordered by name
func (m *Monitor) AggregateHealth(name string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.statuses))
	for k := range m.statuses {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	checks := make([]Status, 0, len(keys))
	for _, k := range keys {
		checks = append(checks, m.statuses[k])
	}
	return Aggregate(name, checks)
}
