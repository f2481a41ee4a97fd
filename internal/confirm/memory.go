package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "nlcal/internal/log"
)

type memoryEntry struct {
	ctx     Context
	expires time.Time
}

// MemoryStore keeps contexts in process memory. Get drops expired entries
// as it meets them; Sweep reclaims the ones nobody asks for again.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock selects time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), now: now}
}

func (s *MemoryStore) Get(_ context.Context, session string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[session]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, session)
		return nil, nil
	}
	c := e.ctx
	return &c, nil
}

func (s *MemoryStore) Put(_ context.Context, session string, c Context, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[session] = memoryEntry{ctx: c, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, session)
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ScheduleSweep registers Sweep on c with a cron spec such as "@every 1m".
func (s *MemoryStore) ScheduleSweep(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if n := s.Sweep(); n > 0 {
			appLog.Debug("swept expired confirmations", "count", n)
		}
	})
}
