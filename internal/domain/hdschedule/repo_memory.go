package hdschedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory AppointmentRepository. It enforces the same
// (date, slot) uniqueness as the Postgres index.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Appointment
	bySlot map[string]uuid.UUID // date|slot -> appointment id
}

// NewMemoryRepo creates an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[uuid.UUID]*Appointment),
		bySlot: make(map[string]uuid.UUID),
	}
}

func slotKey(date, slotID string) string { return date + "|" + slotID }

func (m *MemoryRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey(a.Date, a.SlotID)
	if _, taken := m.bySlot[key]; taken {
		return ErrSlotTaken
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	stored := *a
	m.byID[a.ID] = &stored
	m.bySlot[key] = a.ID
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepo) ListByDate(_ context.Context, date string) ([]*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []*Appointment{}
	for _, a := range m.byID {
		if a.Date == date {
			cp := *a
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SlotID < items[j].SlotID })
	return items, nil
}

func (m *MemoryRepo) Delete(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.byID, id)
	delete(m.bySlot, slotKey(a.Date, a.SlotID))
	return a, nil
}
