package global

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.Equal(t, 900, cfg.CacheTTL)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTLDur())
	assert.Equal(t, 60*time.Second, cfg.PresenceTTLDur())
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout())
	assert.Empty(t, cfg.Nats.Servers)

	assert.Same(t, cfg, Get())
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("RT_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("RT_CACHE_TTL", "120")
	t.Setenv("RT_NATS_SERVERS", "nats://a:4222,nats://b:4222")
	t.Setenv("RT_GATEWAY_ID", "gw-7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
	assert.Equal(t, 120, cfg.CacheTTL)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTLDur())
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.Nats.Servers)
	assert.Equal(t, "gw-7", cfg.GatewayID)
	// untouched keys keep their defaults
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
}
