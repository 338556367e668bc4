package records

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
)

// Memory is an in-process Store. It is used for local runs and by tests; the hooks let
// tests fail individual writes.
type Memory struct {
	mu      sync.Mutex
	checks  map[string]*models.Check
	batches map[string]*models.Batch

	InsertHook func(c *models.Check) error
	UpdateHook func(c *models.Check) error
	DeleteHook func(id string) error
}

func NewMemory() *Memory {
	return &Memory{checks: map[string]*models.Check{}, batches: map[string]*models.Batch{}}
}

func (m *Memory) GetCheck(_ context.Context, id string) (*models.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checks[id]
	if !ok {
		return nil, fmt.Errorf("check %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *Memory) InsertCheck(_ context.Context, c *models.Check) error {
	if m.InsertHook != nil {
		if err := m.InsertHook(c); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID != "" {
		if _, ok := m.checks[c.ID]; ok {
			return fmt.Errorf("check %s: %w", c.ID, ErrExists)
		}
	}
	if err := m.nameFree(c); err != nil {
		return err
	}
	prepareInsert(c)
	m.checks[c.ID] = c.Clone()
	return nil
}

func (m *Memory) UpdateCheck(_ context.Context, c *models.Check) error {
	if m.UpdateHook != nil {
		if err := m.UpdateHook(c); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.checks[c.ID]
	if !ok {
		return fmt.Errorf("check %s: %w", c.ID, ErrNotFound)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("check %s at version %d, caller has %d: %w", c.ID, cur.Version, c.Version, ErrConflict)
	}
	if err := m.nameFree(c); err != nil {
		return err
	}
	c.Version++
	c.UpdatedAt = now()
	c.CreatedAt = cur.CreatedAt
	m.checks[c.ID] = c.Clone()
	return nil
}

// nameFree must be called with mu held.
func (m *Memory) nameFree(c *models.Check) error {
	key, ok := nameKey(c)
	if !ok {
		return nil
	}
	for id, other := range m.checks {
		if id == c.ID || other.BatchNumber != c.BatchNumber || other.CheckNumber != c.CheckNumber {
			continue
		}
		if k, ok := nameKey(other); ok && k == key {
			return fmt.Errorf("%s held by %s: %w", c.FileName(), id, ErrNameTaken)
		}
	}
	return nil
}

func (m *Memory) DeleteCheck(_ context.Context, id string) error {
	if m.DeleteHook != nil {
		if err := m.DeleteHook(id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[id]; !ok {
		return fmt.Errorf("check %s: %w", id, ErrNotFound)
	}
	delete(m.checks, id)
	return nil
}

func (m *Memory) ListChecks(_ context.Context, f Filter) ([]*models.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Check
	for _, c := range m.checks {
		if f.Match(c) {
			out = append(out, c.Clone())
		}
	}
	sortChecks(out)
	return out, nil
}

func (m *Memory) GetBatch(_ context.Context, number string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[number]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", number, ErrNotFound)
	}
	cp := *b
	cp.CheckIDs = append([]string(nil), b.CheckIDs...)
	return &cp, nil
}

func (m *Memory) SaveBatch(_ context.Context, b *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.Number]; ok {
		return fmt.Errorf("batch %s: %w", b.Number, ErrExists)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	cp := *b
	cp.CheckIDs = append([]string(nil), b.CheckIDs...)
	m.batches[b.Number] = &cp
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
