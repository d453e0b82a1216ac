package dedup

import (
	"context"
	"sync"
	"time"
)

type memoryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[int]time.Time
	now  func() time.Time
}

func NewMemoryGuard(ttl time.Duration) Guard {
	return &memoryGuard{
		ttl:  ttl,
		seen: make(map[int]time.Time),
		now:  time.Now,
	}
}

func (g *memoryGuard) Claim(_ context.Context, updateID int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expiresAt, ok := g.seen[updateID]; ok && now.Before(expiresAt) {
		return false, nil
	}
	g.seen[updateID] = now.Add(g.ttl)

	// Sweep on growth so the map stays bounded by the update rate times TTL.
	if len(g.seen)%1024 == 0 {
		for id, expiresAt := range g.seen {
			if !now.Before(expiresAt) {
				delete(g.seen, id)
			}
		}
	}
	return true, nil
}
