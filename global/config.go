package global

import (
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/nexmarket/realtime/logger"
)

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type MongoConfig struct {
	URI         string `json:"uri"`
	Database    string `json:"database"`
	MaxPoolSize int    `json:"max_pool_size"`
	MaxRetry    int    `json:"max_retry"`
}

type NatsConfig struct {
	Servers []string `json:"servers"`
	Name    string   `json:"name"`
}

type Config struct {
	GatewayID string `json:"gateway_id"`
	HTTPAddr  string `json:"http_addr"`
	NodeID    int64  `json:"node_id"`

	Redis RedisConfig `json:"redis"`
	Mongo MongoConfig `json:"mongo"`
	Nats  NatsConfig  `json:"nats"`

	JwtSecret  string `json:"jwt_secret"`
	AdminToken string `json:"admin_token"`

	// seconds unless noted
	CacheTTL       int `json:"cache_ttl"`
	PresenceTTL    int `json:"presence_ttl"`
	OfflineTTL     int `json:"offline_ttl"`
	OfflineMax     int `json:"offline_max"`
	StoreTimeoutMS int `json:"store_timeout_ms"`

	// websocket upgrades allowed per client IP per minute
	ConnectRateLimit int `json:"connect_rate_limit"`
}

var appConfig *Config

func defaults() map[string]any {
	host, _ := os.Hostname()
	return map[string]any{
		"gateway_id": "gw-" + host,
		"http_addr":  ":8090",
		"node_id":    1,
		"redis": map[string]any{
			"addr": "127.0.0.1:6379", "password": "", "db": 0,
		},
		"mongo": map[string]any{
			"uri":      "mongodb://localhost:27017",
			"database": "nexmarket", "max_pool_size": 20, "max_retry": 3,
		},
		"nats": map[string]any{
			"servers": []string{}, "name": "realtime-gateway",
		},
		"jwt_secret":         "dev-secret-change-me",
		"admin_token":        "",
		"cache_ttl":          900,
		"presence_ttl":       60,
		"offline_ttl":        604800, // 7d
		"offline_max":        1000,
		"store_timeout_ms":   3000,
		"connect_rate_limit": 60,
	}
}

// env var names, flattened onto the defaults map
var envBinding = map[string]string{
	"RT_GATEWAY_ID":     "gateway_id",
	"RT_HTTP_ADDR":      "http_addr",
	"RT_NODE_ID":        "node_id",
	"RT_REDIS_ADDR":     "redis.addr",
	"RT_REDIS_PASSWORD": "redis.password",
	"RT_REDIS_DB":       "redis.db",
	"RT_MONGO_URI":      "mongo.uri",
	"RT_MONGO_DATABASE": "mongo.database",
	"RT_NATS_SERVERS":   "nats.servers",
	"RT_JWT_SECRET":     "jwt_secret",
	"RT_ADMIN_TOKEN":    "admin_token",
	"RT_CACHE_TTL":      "cache_ttl",
	"RT_PRESENCE_TTL":   "presence_ttl",
	"RT_OFFLINE_TTL":    "offline_ttl",
	"RT_OFFLINE_MAX":    "offline_max",
}

// Load builds the config from defaults overlaid with environment variables.
// Weakly-typed decoding lets "3" from the environment land in an int field.
func Load() (*Config, error) {
	m := defaults()
	for env, path := range envBinding {
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			continue
		}
		setPath(m, path, v)
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	appConfig = &cfg
	logger.Infof("[config] gateway=%s redis=%s mongo=%s nats=%v",
		cfg.GatewayID, cfg.Redis.Addr, cfg.Mongo.URI, cfg.Nats.Servers)
	return &cfg, nil
}

func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	for i := 0; i < len(parts)-1; i++ {
		sub, ok := m[parts[i]].(map[string]any)
		if !ok {
			sub = map[string]any{}
			m[parts[i]] = sub
		}
		m = sub
	}
	m[parts[len(parts)-1]] = v
}

// Get returns the loaded config; Load must have been called.
func Get() *Config {
	return appConfig
}

func (c *Config) JwtSecretBytes() []byte { return []byte(c.JwtSecret) }

func (c *Config) StoreTimeout() time.Duration {
	if c.StoreTimeoutMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

func (c *Config) CacheTTLDur() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func (c *Config) PresenceTTLDur() time.Duration {
	return time.Duration(c.PresenceTTL) * time.Second
}

func (c *Config) OfflineTTLDur() time.Duration {
	return time.Duration(c.OfflineTTL) * time.Second
}
