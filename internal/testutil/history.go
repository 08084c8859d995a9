package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/biztrack/notifier/internal/model"
)

// MemoryHistory is an in-memory InstanceHistory for tests.
type MemoryHistory struct {
	mu        sync.Mutex
	instances map[string]*model.NotificationInstance
	order     []string
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{instances: make(map[string]*model.NotificationInstance)}
}

func (m *MemoryHistory) clone(i *model.NotificationInstance) *model.NotificationInstance {
	c := *i
	return &c
}

// Store records a new instance.
func (m *MemoryHistory) Store(_ context.Context, instance *model.NotificationInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instance.ID] = m.clone(instance)
	m.order = append(m.order, instance.ID)
	return nil
}

// Update overwrites a stored instance.
func (m *MemoryHistory) Update(_ context.Context, instance *model.NotificationInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instance.ID] = m.clone(instance)
	return nil
}

// Get returns a stored instance or nil.
func (m *MemoryHistory) Get(_ context.Context, id string) (*model.NotificationInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if instance, ok := m.instances[id]; ok {
		return m.clone(instance), nil
	}
	return nil, nil
}

// List returns stored instances matching the filters in insertion order.
func (m *MemoryHistory) List(_ context.Context, filters map[string]interface{}, offset, limit int) ([]*model.NotificationInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.NotificationInstance
	for _, id := range m.order {
		instance := m.instances[id]
		if matchesFilters(instance, filters) {
			out = append(out, m.clone(instance))
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored instances matching the filters.
func (m *MemoryHistory) Count(_ context.Context, filters map[string]interface{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, instance := range m.instances {
		if matchesFilters(instance, filters) {
			count++
		}
	}
	return count, nil
}

// DeleteBefore removes instances created before the given time.
func (m *MemoryHistory) DeleteBefore(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var order []string
	for _, id := range m.order {
		if m.instances[id].CreatedAt.Before(before) {
			delete(m.instances, id)
			continue
		}
		order = append(order, id)
	}
	m.order = order
	return nil
}

func matchesFilters(instance *model.NotificationInstance, filters map[string]interface{}) bool {
	for key, value := range filters {
		switch key {
		case "rule_id":
			if instance.RuleID != value {
				return false
			}
		case "entity_id":
			if instance.EntityID != value {
				return false
			}
		case "status":
			if string(instance.Status) != value {
				return false
			}
		}
	}
	return true
}
