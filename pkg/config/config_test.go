package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 0.05, c.Fusion.WeightFloor)
	assert.Equal(t, 0.5, c.Fusion.GuardrailLower)
	assert.Equal(t, 1.5, c.Fusion.GuardrailUpper)
	assert.Equal(t, 42.0, c.Fusion.DefaultBaseline)
	assert.Equal(t, 60*time.Second, c.Cache.TTL)
	assert.Equal(t, "memory", c.Cache.Backend)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
	assert.NoError(t, c.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
fusion:
  weight_floor: 0.1
cache:
  ttl: 30s
providers:
  weather:
    enabled: true
    url: http://weather:8001
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, 0.1, c.Fusion.WeightFloor)
	assert.Equal(t, 1.5, c.Fusion.GuardrailUpper)
	assert.Equal(t, 30*time.Second, c.Cache.TTL)
	assert.True(t, c.Providers.Weather.Enabled)
	assert.Equal(t, "http://weather:8001", c.Providers.Weather.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"floor":    "fusion:\n  weight_floor: 0\n",
		"backend":  "cache:\n  backend: disk\n",
		"provider": "providers:\n  traffic:\n    enabled: true\n",
		"port":     "server:\n  port: 70000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CLARITY_PORT":             "9090",
		"CLARITY_CACHE_TTL":        "2m",
		"CLARITY_DEFAULT_BASELINE": "55.5",
		"REDIS_ADDR":               "redis:6379",
		"KAFKA_BROKERS":            "k1:9092, k2:9092,",
		"KAFKA_ENABLED":            "true",
		"TRANSIT_AGENT_URL":        "http://transit:8002/",
	}
	c := Default()
	require.NoError(t, c.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 2*time.Minute, c.Cache.TTL)
	assert.Equal(t, 55.5, c.Fusion.DefaultBaseline)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Kafka.Enabled)
	assert.True(t, c.Providers.Transit.Enabled)
	assert.Equal(t, "http://transit:8002", c.Providers.Transit.URL)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	c := Default()
	err := c.applyEnv(func(k string) (string, bool) {
		if k == "CLARITY_PORT" {
			return "eighty", true
		}
		return "", false
	})
	assert.Error(t, err)
}
