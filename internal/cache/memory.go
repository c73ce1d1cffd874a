package cache

import (
	"context"
	"sync"
)

// MemoryInvalidator records invalidations for tests.
type MemoryInvalidator struct {
	mu          sync.Mutex
	invalidated []string

	InvalidateErr error
}

var _ Invalidator = (*MemoryInvalidator)(nil)

func NewMemoryInvalidator() *MemoryInvalidator {
	return &MemoryInvalidator{}
}

func (m *MemoryInvalidator) Invalidate(ctx context.Context, keys ...string) error {
	if m.InvalidateErr != nil {
		return m.InvalidateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, keys...)
	return nil
}

// Invalidated returns every key invalidated so far (test helper).
func (m *MemoryInvalidator) Invalidated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.invalidated))
	copy(out, m.invalidated)
	return out
}
