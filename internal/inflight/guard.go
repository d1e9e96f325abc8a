// Package inflight allows at most one outstanding request per practitioner
// and action, so a double click cannot start two structuring or generation
// calls.
package inflight

import (
	"context"
	"errors"
	"sync"
)

// ErrInFlight is returned when the same action is already running.
var ErrInFlight = errors.New("inflight: request already in progress")

// Guard hands out exclusive holds on a key.
type Guard interface {
	// Acquire returns a release func, or ErrInFlight if the key is held.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key builds the guard key for a practitioner action.
func Key(practitionerID, action string) string {
	return practitionerID + ":" + action
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, ErrInFlight
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}
