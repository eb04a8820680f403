package syncer

import (
	"sort"
	"sync"
	"time"
)

// Status is a query's lifecycle state as seen by readers.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPolling Status = "polling"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// Snapshot is a point-in-time copy of one cache entry. Value is replaced
// wholesale on each successful fetch and never mutated afterwards.
type Snapshot struct {
	Key                 string
	Value               any
	HasValue            bool
	Status              Status
	Interval            time.Duration
	LastFetch           time.Time
	Err                 error
	ConsecutiveFailures int
	Stale               bool
	InFlight            bool
	Paused              bool
}

// IsError reports whether the most recent fetch failed.
func (s Snapshot) IsError() bool {
	return s.Err != nil
}

func (s *Snapshot) refreshStatus() {
	switch {
	case s.Paused:
		s.Status = StatusPaused
	case s.InFlight:
		s.Status = StatusPolling
	case s.Err != nil:
		s.Status = StatusError
	default:
		s.Status = StatusIdle
	}
}

// ValueAs returns the snapshot's value as T.
func ValueAs[T any](s Snapshot) (T, bool) {
	v, ok := s.Value.(T)
	return v, ok && s.HasValue
}

// Cache maps query keys to their latest state. Readers use Get and
// Subscribe; only the Scheduler and the Bus write to it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Snapshot
	subs    map[int]chan string
	nextSub int
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Snapshot),
		subs:    make(map[int]chan string),
	}
}

// Get returns a copy of the entry for key.
func (c *Cache) Get(key string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{Key: key, Status: StatusIdle}, false
	}
	return *e, true
}

// Keys lists the cached keys in lexical order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Subscribe returns a channel that receives a key each time its entry
// changes. Sends never block; a full channel drops the notification, so
// consumers should re-read with Get rather than count events. Call the
// returned func to unsubscribe.
func (c *Cache) Subscribe(buffer int) (<-chan string, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan string, buffer)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// update applies fn to the entry for key, creating it if needed.
func (c *Cache) update(key string, fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &Snapshot{Key: key}
		c.entries[key] = e
	}
	fn(e)
	e.refreshStatus()
	c.notifyLocked(key)
}

// markStale flags an existing entry. It reports false for unknown keys.
func (c *Cache) markStale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.Stale = true
	c.notifyLocked(key)
	return true
}

func (c *Cache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.notifyLocked(key)
}

func (c *Cache) notifyLocked(key string) {
	for _, ch := range c.subs {
		select {
		case ch <- key:
		default:
		}
	}
}
