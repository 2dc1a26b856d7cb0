package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_StartsEmpty(t *testing.T) {
	c := NewCache(nil)

	r := c.Get()
	assert.True(t, r.Empty())
	assert.Equal(t, uint64(0), r.Version)
	assert.Equal(t, "", r.Payload)
}

func TestCache_SetIncrementsVersion(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	c := NewCache(clock)

	first := c.Set("41")
	assert.Equal(t, uint64(1), first.Version)
	assert.Equal(t, "41", first.Payload)
	assert.Equal(t, clock.Now(), first.ObservedAt)

	clock.Advance(time.Second)
	second := c.Set("42")
	assert.Equal(t, uint64(2), second.Version)
	assert.Equal(t, clock.Now(), second.ObservedAt)

	assert.Equal(t, second, c.Get())
	assert.Equal(t, uint64(2), c.Version())
}

func TestCache_RepeatedPayloadStillBumpsVersion(t *testing.T) {
	c := NewCache(nil)

	c.Set("same")
	r := c.Set("same")

	assert.Equal(t, uint64(2), r.Version)
	assert.Equal(t, "same", r.Payload)
}

func TestCache_ConcurrentSetIsMonotonic(t *testing.T) {
	c := NewCache(nil)

	const writers = 8
	const perWriter = 250

	var wg sync.WaitGroup
	versions := make(chan uint64, writers*perWriter)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				versions <- c.Set("v").Version
			}
		}()
	}

	// Readers run alongside writers to catch torn reads under -race.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				r := c.Get()
				if r.Version > 0 {
					assert.Equal(t, "v", r.Payload)
				}
			}
		}
	}()

	wg.Wait()
	close(done)
	close(versions)

	seen := make(map[uint64]bool, writers*perWriter)
	for v := range versions {
		require.False(t, seen[v], "version %d handed out twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, writers*perWriter)
	assert.Equal(t, uint64(writers*perWriter), c.Version())
}

func TestCache_ChangedClosedBySet(t *testing.T) {
	c := NewCache(nil)

	ch := c.Changed()
	select {
	case <-ch:
		t.Fatal("changed channel closed before any Set")
	default:
	}

	c.Set("1")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("changed channel not closed by Set")
	}

	// A new channel is installed for the next change.
	next := c.Changed()
	select {
	case <-next:
		t.Fatal("fresh changed channel already closed")
	default:
	}
}

func TestCache_SnapshotPairsReadingWithWaiter(t *testing.T) {
	c := NewCache(nil)
	c.Set("a")

	r, ch := c.Snapshot()
	assert.Equal(t, uint64(1), r.Version)

	c.Set("b")
	<-ch
	assert.Equal(t, uint64(2), c.Version())
}
