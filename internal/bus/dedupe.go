package bus

import (
	"strings"
	"sync"
)

// Dedupe remembers the most recent keys it has seen, up to a fixed size.
// Handlers use it to make at-least-once delivery idempotent.
type Dedupe struct {
	mu    sync.Mutex
	size  int
	seen  map[string]struct{}
	order []string
}

func NewDedupe(size int) *Dedupe {
	if size <= 0 {
		size = 1
	}
	return &Dedupe{size: size, seen: make(map[string]struct{}, size)}
}

// First reports whether key is seen for the first time and records it.
func (d *Dedupe) First(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.size {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return true
}

// Key joins message identity parts into one dedupe key.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}
