package source

import (
	"context"
	"sync"
)

// MockSource serves measurements from memory. Values queued with Push are
// returned in order; once a queue is drained the last value keeps repeating.
type MockSource struct {
	mu     sync.Mutex
	values map[string][]int64
	last   map[string]int64
	errs   map[string]error
	calls  map[string]int
}

func NewMockSource() *MockSource {
	return &MockSource{
		values: map[string][]int64{},
		last:   map[string]int64{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (m *MockSource) Push(itemID string, values ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[itemID] = append(m.values[itemID], values...)
}

// Fail makes every fetch for itemID fail with err until cleared with nil.
func (m *MockSource) Fail(itemID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, itemID)
		return
	}
	m.errs[itemID] = err
}

func (m *MockSource) Calls(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[itemID]
}

func (m *MockSource) FetchCurrentMeasurement(ctx context.Context, itemID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[itemID]++
	if err, ok := m.errs[itemID]; ok {
		return 0, &FetchError{ItemID: itemID, Err: err}
	}
	if queue := m.values[itemID]; len(queue) > 0 {
		m.last[itemID] = queue[0]
		m.values[itemID] = queue[1:]
		return queue[0], nil
	}
	if value, ok := m.last[itemID]; ok {
		return value, nil
	}
	return 0, &FetchError{ItemID: itemID, Err: ErrNotFound}
}
