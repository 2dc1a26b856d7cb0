package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextWithin(t *testing.T, s *Session, d time.Duration) (string, uint64, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	r, err := s.Next(ctx)
	return r.Payload, r.Version, err
}

func TestSession_NoReplayOnStart(t *testing.T) {
	c := NewCache(nil)
	c.Set("old")

	s := c.NewSession(SessionOptions{})
	defer s.Close()
	assert.Equal(t, uint64(1), s.LastSent())

	_, _, err := nextWithin(t, s, 50*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSession_ReplayCurrent(t *testing.T) {
	c := NewCache(nil)
	c.Set("old")

	s := c.NewSession(SessionOptions{ReplayCurrent: true})
	defer s.Close()

	payload, version, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "old", payload)
	assert.Equal(t, uint64(1), version)
}

func TestSession_ReplayCurrentOnEmptyCacheWaits(t *testing.T) {
	c := NewCache(nil)

	s := c.NewSession(SessionOptions{ReplayCurrent: true})
	defer s.Close()

	_, _, err := nextWithin(t, s, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestSession_DeliversChange(t *testing.T) {
	c := NewCache(nil)
	s := c.NewSession(SessionOptions{})
	defer s.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Set("42")
	}()

	payload, version, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "42", payload)
	assert.Equal(t, uint64(1), version)

	// Same version is never returned twice.
	_, _, err = nextWithin(t, s, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestSession_SkipsOverwrittenReadings(t *testing.T) {
	c := NewCache(nil)
	s := c.NewSession(SessionOptions{})
	defer s.Close()

	c.Set("1")
	c.Set("2")
	c.Set("3")

	payload, version, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "3", payload)
	assert.Equal(t, uint64(3), version)
}

func TestSession_PollingDoesNotDuplicate(t *testing.T) {
	c := NewCache(nil)
	s := c.NewSession(SessionOptions{PollInterval: 5 * time.Millisecond})
	defer s.Close()

	c.Set("x")
	_, _, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)

	_, _, err = nextWithin(t, s, 60*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSession_IndependentCursors(t *testing.T) {
	c := NewCache(nil)

	a := c.NewSession(SessionOptions{})
	defer a.Close()
	c.Set("1")

	payload, _, err := nextWithin(t, a, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", payload)

	b := c.NewSession(SessionOptions{})
	defer b.Close()
	assert.Equal(t, uint64(1), b.LastSent())
	c.Set("2")

	payload, _, err = nextWithin(t, a, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2", payload)

	payload, version, err := nextWithin(t, b, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2", payload)
	assert.Equal(t, uint64(2), version)

	_, _, err = nextWithin(t, b, 30*time.Millisecond)
	assert.Error(t, err)
}
