package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nlcal/internal/model"
)

// MemoryStore is a mutex-guarded in-process EventStore.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]model.CalendarEvent
	now    func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock selects time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{events: make(map[string]model.CalendarEvent), now: now}
}

func (s *MemoryStore) Create(_ context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	out, err := prepare(ev, id, s.now())
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("create event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; ok {
		return model.CalendarEvent{}, fmt.Errorf("create event %s: %w", id, ErrExists)
	}
	s.events[id] = out
	return out.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, p Patch) (model.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[id]
	if !ok {
		return model.CalendarEvent{}, fmt.Errorf("update event %s: %w", id, ErrNotFound)
	}
	if p.IfVersion != 0 && p.IfVersion != cur.Version {
		return model.CalendarEvent{}, fmt.Errorf("update event %s (have %d, want %d): %w", id, cur.Version, p.IfVersion, ErrVersionConflict)
	}
	next := p.Apply(cur)
	if err := next.Validate(); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("update event %s: %w", id, err)
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	s.events[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("delete event %s: %w", id, ErrNotFound)
	}
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, rangeStart, rangeEnd time.Time) ([]model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.CalendarEvent
	for _, ev := range s.events {
		if inRange(ev, rangeStart, rangeEnd) {
			out = append(out, ev.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return model.CalendarEvent{}, fmt.Errorf("get event %s: %w", id, ErrNotFound)
	}
	return ev.Clone(), nil
}
