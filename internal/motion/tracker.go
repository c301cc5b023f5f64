// Package motion keeps the per-tag motion alert countdown.
package motion

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Defaults of the reference deployment.
const (
	DefaultThreshold = 0.9
	DefaultWindow    = 120
	DefaultCapacity  = 4096
)

// Tracker holds a countdown per tag. A magnitude above the threshold restarts
// the countdown at the window length; anything else decrements it towards 0.
//
// Tags are kept in an LRU cache. A tag evicted for capacity behaves exactly
// like a tag that was never seen.
type Tracker struct {
	threshold float64
	window    int

	mu    sync.Mutex
	cache *lru.Cache[string, int]
}

// NewTracker returns a tracker remembering at most capacity tags.
func NewTracker(threshold float64, window, capacity int) (*Tracker, error) {
	if window <= 0 {
		return nil, fmt.Errorf("motion window must be positive, got %d", window)
	}
	cache, err := lru.New[string, int](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create motion cache: %w", err)
	}
	return &Tracker{threshold: threshold, window: window, cache: cache}, nil
}

// Update folds one batch's maximum magnitude for tag into its countdown and
// returns the new value.
func (t *Tracker) Update(tag string, magnitude float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counter, _ := t.cache.Get(tag)
	if magnitude > t.threshold {
		counter = t.window
	} else if counter > 0 {
		counter--
	}
	t.cache.Add(tag, counter)
	return counter
}

// Get returns the countdown for tag without touching its recency.
func (t *Tracker) Get(tag string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, _ := t.cache.Peek(tag)
	return v
}

// Len returns the number of tags held.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

// Reset forgets every tag.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Purge()
}

// Snapshot copies the current countdowns.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int, t.cache.Len())
	for _, tag := range t.cache.Keys() {
		if v, ok := t.cache.Peek(tag); ok {
			out[tag] = v
		}
	}
	return out
}

// Restore replaces the tracker's state with snap. Counters are clamped to
// [0, window]; if snap holds more tags than the capacity, some are dropped.
func (t *Tracker) Restore(snap map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache.Purge()
	for tag, v := range snap {
		t.cache.Add(tag, min(max(v, 0), t.window))
	}
}
