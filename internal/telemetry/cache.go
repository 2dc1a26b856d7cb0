// Package telemetry holds the latest soil reading received from the broker.
//
// The Cache is written by the ingestion consumer and read by every stream
// session. Readers wait on Changed() instead of sleeping, and fall back to
// polling Get() on their own interval.
package telemetry

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/farmbridge/internal/models"
)

// Cache is a synchronized cell holding one models.Reading.
type Cache struct {
	mu      sync.RWMutex
	current models.Reading
	changed chan struct{}
	clock   clockwork.Clock
}

func NewCache(clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		changed: make(chan struct{}),
		clock:   clock,
	}
}

// Set stores payload as a new reading and wakes everyone blocked on the
// channel returned by Changed. The returned reading is the one stored.
func (c *Cache) Set(payload string) models.Reading {
	c.mu.Lock()
	c.current = models.Reading{
		Payload:    payload,
		Version:    c.current.Version + 1,
		ObservedAt: c.clock.Now(),
	}
	r := c.current
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
	return r
}

// Get returns a copy of the current reading.
func (c *Cache) Get() models.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Version returns the version of the current reading, 0 before the first Set.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Version
}

// Changed returns a channel that is closed by the next Set.
func (c *Cache) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// Snapshot returns the current reading together with the channel closed by
// the Set that replaces it. Taking both under one lock means a Set can never
// fall between reading the version and starting to wait.
func (c *Cache) Snapshot() (models.Reading, <-chan struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.changed
}
