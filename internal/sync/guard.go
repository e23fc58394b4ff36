package sync

import "sync"

// Guard enforces single-flight per (tenant, provider) key. Acquire before
// any sync work starts and release in a defer regardless of outcome.
type Guard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{running: make(map[string]struct{})}
}

// TryAcquire claims the key. It returns false when a run already holds it.
func (g *Guard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.running[key]; held {
		return false
	}
	g.running[key] = struct{}{}
	return true
}

func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, key)
}

// Held reports whether the key is currently claimed.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.running[key]
	return held
}
