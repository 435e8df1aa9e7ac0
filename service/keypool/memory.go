package keypool

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/atopos31/keyrelay/models"
	"github.com/samber/lo"
)

// Memory is a process-local Store. Tests use it in place of the gorm Pool.
type Memory struct {
	mu     sync.Mutex
	keys   map[uint]models.KeyRecord
	nextID uint
	now    func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{keys: make(map[uint]models.KeyRecord), now: time.Now}
}

// clone detaches pointer fields so callers never alias stored state.
func clone(k models.KeyRecord) models.KeyRecord {
	if k.LastUsed != nil {
		t := *k.LastUsed
		k.LastUsed = &t
	}
	if k.GlobalCooldownUntil != nil {
		t := *k.GlobalCooldownUntil
		k.GlobalCooldownUntil = &t
	}
	if k.DailyLimit != nil {
		n := *k.DailyLimit
		k.DailyLimit = &n
	}
	return k
}

func (m *Memory) sorted() []models.KeyRecord {
	ids := slices.Sorted(maps.Keys(m.keys))
	return lo.Map(ids, func(id uint, _ int) models.KeyRecord {
		return clone(m.keys[id])
	})
}

// FindActive returns the records matching f, ordered by id.
func (m *Memory) FindActive(_ context.Context, f Filter) ([]models.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Filter(m.sorted(), func(k models.KeyRecord, _ int) bool {
		return f.Match(k)
	}), nil
}

func (m *Memory) FindByID(_ context.Context, id uint) (*models.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	k = clone(k)
	return &k, nil
}

func (m *Memory) FindBySecret(_ context.Context, secret string) (*models.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Secret == secret {
			k = clone(k)
			return &k, nil
		}
	}
	return nil, nil
}

func (m *Memory) List(_ context.Context) ([]models.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *Memory) Create(_ context.Context, k *models.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.keys {
		if existing.Secret == k.Secret {
			return ErrDuplicate
		}
	}
	m.nextID++
	now := m.now()
	k.ID = m.nextID
	k.CreatedAt, k.UpdatedAt = now, now
	m.keys[k.ID] = clone(*k)
	return nil
}

func (m *Memory) Update(_ context.Context, k *models.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[k.ID]; !ok {
		return ErrNotFound
	}
	k.UpdatedAt = m.now()
	m.keys[k.ID] = clone(*k)
	return nil
}

func (m *Memory) BulkUpdate(_ context.Context, keys []models.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if _, ok := m.keys[k.ID]; !ok {
			return ErrNotFound
		}
	}
	now := m.now()
	for _, k := range keys {
		k.UpdatedAt = now
		m.keys[k.ID] = clone(k)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[id]; !ok {
		return ErrNotFound
	}
	delete(m.keys, id)
	return nil
}
