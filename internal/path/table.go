package path

import (
	"sync"

	"saltyrtc.io/server/internal/wire"
)

// Table is the server-wide map of initiator public key to Path, grounded
// on the teacher's own map[string]chan *websocket.Conn guarded by a
// sync.RWMutex in cmd/ww/server.go.
type Table struct {
	mu      sync.RWMutex
	paths   map[wire.PublicKey]*Path
	counter uint32
}

// NewTable creates an empty path table.
func NewTable() *Table {
	return &Table{paths: make(map[wire.PublicKey]*Path)}
}

// GetOrCreate returns the existing Path for key, or creates and registers a
// new one.
func (t *Table) GetOrCreate(key wire.PublicKey) *Path {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.paths[key]; ok {
		return p
	}
	t.counter++
	p := New(key, t.counter)
	t.paths[key] = p
	return p
}

// Prune removes p from the table if it is empty. Safe to call unconditionally
// after any session teardown.
func (t *Table) Prune(p *Path) {
	if !p.Empty() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.paths[p.InitiatorKey()]; ok && current == p {
		// Re-check emptiness under the table lock: a responder could have
		// joined between the Empty() check above and acquiring this lock.
		if current.Empty() {
			delete(t.paths, p.InitiatorKey())
		}
	}
}

// Len returns the number of active paths, for metrics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.paths)
}
