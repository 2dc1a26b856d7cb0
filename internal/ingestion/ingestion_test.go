package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmbridge/internal/mqttclient"
	"github.com/farmbridge/internal/telemetry"
)

type chanSource chan mqttclient.Message

func (c chanSource) Messages() <-chan mqttclient.Message { return c }

type countingCounter struct {
	mu       sync.Mutex
	accepted int
	ignored  int
}

func (c *countingCounter) Accepted() { c.mu.Lock(); c.accepted++; c.mu.Unlock() }
func (c *countingCounter) Ignored()  { c.mu.Lock(); c.ignored++; c.mu.Unlock() }

func TestService_FeedsTelemetryTopic(t *testing.T) {
	src := make(chanSource, 4)
	cache := telemetry.NewCache(nil)
	counter := &countingCounter{}
	svc := New(src, cache, "farmbot/soil", counter, zerolog.Nop())

	src <- mqttclient.Message{Topic: "farmbot/soil", Payload: []byte("512")}
	src <- mqttclient.Message{Topic: "farmbot/other", Payload: []byte("ignored")}
	src <- mqttclient.Message{Topic: "farmbot/soil", Payload: []byte("530")}
	close(src)

	require.NoError(t, svc.Run(context.Background()))

	r := cache.Get()
	assert.Equal(t, "530", r.Payload)
	assert.Equal(t, uint64(2), r.Version)
	assert.Equal(t, 2, counter.accepted)
	assert.Equal(t, 1, counter.ignored)
}

func TestService_StopsOnCancel(t *testing.T) {
	src := make(chanSource)
	svc := New(src, telemetry.NewCache(nil), "farmbot/soil", nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
