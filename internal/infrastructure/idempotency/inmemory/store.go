package inmemoryidempotency

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/shiro-wallet/shirod/internal/core/ports"
)

type entry struct {
	resp      *ports.StoredResponse
	expiresAt time.Time
}

type store struct {
	lock    sync.Mutex
	entries map[string]entry
	clock   clock.Clock
}

func NewStore(c clock.Clock) ports.IdempotencyStore {
	if c == nil {
		c = clock.NewDefaultClock()
	}
	return &store{
		entries: make(map[string]entry),
		clock:   c,
	}
}

func (s *store) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.entries[key] = entry{expiresAt: s.clock.Now().Add(ttl)}
	return true, nil
}

func (s *store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	e, ok := s.get(key)
	if !ok {
		return nil, nil
	}
	if e.resp == nil {
		return nil, ports.ErrRequestInProgress
	}
	resp := *e.resp
	return &resp, nil
}

func (s *store) Store(
	_ context.Context, key string, resp ports.StoredResponse, ttl time.Duration,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.entries[key] = entry{resp: &resp, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *store) Release(_ context.Context, key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *store) Close() {}

// get must be called with the lock held, it drops the entry if expired.
func (s *store) get(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}
