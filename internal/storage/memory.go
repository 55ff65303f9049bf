package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"viewpulse/internal/model"
)

// MemoryStore keeps everything in process memory. It backs local runs and
// tests; FailOn injects store failures per operation.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]model.TrackedItem
	samples map[string][]model.Sample
	alerts  []model.AlertRecord
	fail    map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   map[string]model.TrackedItem{},
		samples: map[string][]model.Sample{},
		fail:    map[string]error{},
	}
}

// FailOn makes the named operation (the method name) return err wrapped as a
// storage error. A nil err clears the failure.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

func (m *MemoryStore) failure(op string) error {
	if err, ok := m.fail[op]; ok {
		return wrap(op, err)
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure("Ping")
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) ListItems(ctx context.Context, status model.ItemStatus) ([]model.TrackedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListItems"); err != nil {
		return nil, err
	}
	results := []model.TrackedItem{}
	for _, item := range m.items {
		if status == "" || item.Status == status {
			results = append(results, item)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

func (m *MemoryStore) GetItem(ctx context.Context, id string) (model.TrackedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetItem"); err != nil {
		return model.TrackedItem{}, err
	}
	item, ok := m.items[id]
	if !ok {
		return model.TrackedItem{}, ErrNotFound
	}
	return item, nil
}

func (m *MemoryStore) UpsertItem(ctx context.Context, item model.TrackedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("UpsertItem"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if existing, ok := m.items[item.ID]; ok {
		item.CreatedAt = existing.CreatedAt
	} else {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	m.items[item.ID] = item
	return nil
}

func (m *MemoryStore) DeleteItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DeleteItem"); err != nil {
		return err
	}
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	delete(m.samples, id)
	kept := m.alerts[:0]
	for _, rec := range m.alerts {
		if rec.ItemID != id {
			kept = append(kept, rec)
		}
	}
	m.alerts = kept
	return nil
}

func (m *MemoryStore) AppendSample(ctx context.Context, sample model.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AppendSample"); err != nil {
		return err
	}
	sample.ObservedAt = sample.ObservedAt.UTC()
	list := m.samples[sample.ItemID]
	// after any equal timestamps, so insertion order is kept
	idx := sort.Search(len(list), func(i int) bool { return list[i].ObservedAt.After(sample.ObservedAt) })
	list = append(list, model.Sample{})
	copy(list[idx+1:], list[idx:])
	list[idx] = sample
	m.samples[sample.ItemID] = list
	return nil
}

func (m *MemoryStore) RecentSamples(ctx context.Context, itemID string, n int) ([]model.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("RecentSamples"); err != nil {
		return nil, err
	}
	list := m.samples[itemID]
	results := []model.Sample{}
	for i := len(list) - 1; i >= 0 && len(results) < n; i-- {
		results = append(results, list[i])
	}
	return results, nil
}

func (m *MemoryStore) SamplesBetween(ctx context.Context, itemID string, from, to time.Time) ([]model.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("SamplesBetween"); err != nil {
		return nil, err
	}
	results := []model.Sample{}
	for _, sample := range m.samples[itemID] {
		if sample.ObservedAt.Before(from) || sample.ObservedAt.After(to) {
			continue
		}
		results = append(results, sample)
	}
	return results, nil
}

func (m *MemoryStore) SampleBefore(ctx context.Context, itemID string, t time.Time) (model.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("SampleBefore"); err != nil {
		return model.Sample{}, err
	}
	list := m.samples[itemID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ObservedAt.Before(t) {
			return list[i], nil
		}
	}
	return model.Sample{}, ErrNotFound
}

func (m *MemoryStore) AppendAlert(ctx context.Context, rec model.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AppendAlert"); err != nil {
		return err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	m.alerts = append(m.alerts, rec)
	return nil
}

func (m *MemoryStore) HasAlertSince(ctx context.Context, itemID string, tier model.Tier, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("HasAlertSince"); err != nil {
		return false, err
	}
	for _, rec := range m.alerts {
		if rec.ItemID == itemID && rec.Tier == tier && !rec.IsTest && rec.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListAlerts"); err != nil {
		return nil, err
	}
	results := []model.AlertRecord{}
	for i := len(m.alerts) - 1; i >= 0; i-- {
		rec := m.alerts[i]
		if filter.ItemID != "" && rec.ItemID != filter.ItemID {
			continue
		}
		if filter.Channel != "" && rec.Channel != filter.Channel {
			continue
		}
		if filter.Outcome != "" && rec.Outcome != filter.Outcome {
			continue
		}
		if filter.Tier != nil && rec.Tier != *filter.Tier {
			continue
		}
		if filter.IsTest != nil && rec.IsTest != *filter.IsTest {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		results = append(results, rec)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].CreatedAt.After(results[j].CreatedAt) })
	if len(results) > filter.limit() {
		results = results[:filter.limit()]
	}
	return results, nil
}
