package telemetry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/farmbridge/internal/models"
)

// SessionOptions controls how a viewer session follows the cache.
type SessionOptions struct {
	// ReplayCurrent makes the first Next return the reading held at session
	// start, if there is one. By default only later readings are returned.
	ReplayCurrent bool
	// PollInterval re-reads the cache even without a change notification.
	// Zero disables polling.
	PollInterval time.Duration
	Clock        clockwork.Clock
}

// Session is the per-viewer cursor over the cache. It is owned by a single
// goroutine and must not be shared.
type Session struct {
	cache    *Cache
	lastSent uint64
	ticker   clockwork.Ticker
}

// NewSession starts a cursor at the current version.
func (c *Cache) NewSession(opts SessionOptions) *Session {
	s := &Session{cache: c, lastSent: c.Version()}
	if opts.ReplayCurrent && s.lastSent > 0 {
		s.lastSent--
	}
	if opts.PollInterval > 0 {
		clock := opts.Clock
		if clock == nil {
			clock = c.clock
		}
		s.ticker = clock.NewTicker(opts.PollInterval)
	}
	return s
}

// LastSent is the version of the last reading returned by Next.
func (s *Session) LastSent() uint64 {
	return s.lastSent
}

// Next blocks until the cache holds a reading newer than the last one
// returned, then returns it. Intermediate readings that were overwritten
// before Next looked are skipped. It returns ctx.Err() once ctx ends.
func (s *Session) Next(ctx context.Context) (models.Reading, error) {
	var tick <-chan time.Time
	if s.ticker != nil {
		tick = s.ticker.Chan()
	}

	for {
		r, changed := s.cache.Snapshot()
		if r.Version > s.lastSent {
			s.lastSent = r.Version
			return r, nil
		}

		select {
		case <-ctx.Done():
			return models.Reading{}, ctx.Err()
		case <-changed:
		case <-tick:
		}
	}
}

// Close releases the poll ticker.
func (s *Session) Close() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
}
