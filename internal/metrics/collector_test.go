package metrics

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_Disabled(t *testing.T) {
	c, err := NewCollector(Config{Enabled: false}, nil)
	require.NoError(t, err)

	// Every recording method must be a safe no-op when disabled.
	c.CacheHit("fast")
	c.CacheMiss()
	c.CacheBytes("capacity", 1024)
	c.TaskFinished("completed", "normal", 10*time.Millisecond)
	c.QueueDepth(5)
	c.Workers(2, 3)

	assert.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}

func TestNilCollector_Safe(t *testing.T) {
	var c *Collector

	c.CacheHit("fast")
	c.CacheMiss()
	c.CacheBytes("fast", 1)
	c.TaskFinished("failed", "high", time.Millisecond)
	c.QueueDepth(0)
	c.Workers(0, 0)

	assert.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}

func TestCollector_ServesEndpoint(t *testing.T) {
	c, err := NewCollector(Config{
		Enabled: true,
		Port:    19190,
		Path:    "/metrics",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	}()

	c.CacheHit("fast")
	c.TaskFinished("completed", "normal", 5*time.Millisecond)

	// The server binds asynchronously.
	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://127.0.0.1:19190/metrics")
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	require.NoError(t, err, "metrics endpoint never came up")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get("http://127.0.0.1:19190/health")
	require.NoError(t, err)
	defer func() { _ = health.Body.Close() }()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCollector_Uptime(t *testing.T) {
	c, err := NewCollector(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, c.Uptime(), time.Duration(0))
}
