package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "substations/+/rovers/+/+", cfg.MQTT.TopicFilter)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 300*time.Second, cfg.Redis.TTL)
	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoader_LoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"mqtt": {"broker_url": "tcp://broker.example:1883"},
		"api": {"port": 9000}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker.example:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, 9000, cfg.API.Port)
	// Untouched fields keep defaults
	assert.Equal(t, "substations/+/rovers/+/+", cfg.MQTT.TopicFilter)
	assert.Equal(t, 300*time.Second, cfg.Redis.TTL)
}

func TestLoader_LayersOverrideInOrder(t *testing.T) {
	base := writeConfigFile(t, `{"api": {"port": 9000}, "logging": {"level": "debug"}}`)
	override := writeConfigFile(t, `{"api": {"port": 9100}}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.API.Port, "later layer wins")
	assert.Equal(t, "debug", cfg.Logging.Level, "earlier layer survives where later is silent")
}

func TestLoader_DurationStrings(t *testing.T) {
	path := writeConfigFile(t, `{
		"mqtt": {"reconnect_wait": "5s"},
		"redis": {"ttl": "2m"},
		"api": {"read_timeout": "30s"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.MQTT.ReconnectWait)
	assert.Equal(t, 2*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, 30*time.Second, cfg.API.ReadTimeout)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("ARGO_MQTT_BROKER_URL", "tcp://env-broker:1883")
	t.Setenv("ARGO_REDIS_ADDR", "env-redis:6379")
	t.Setenv("ARGO_API_PORT", "8080")
	t.Setenv("ARGO_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp://env-broker:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoader_RejectsNonJSONPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0600))

	_, err := NewLoader().LoadFile(path)
	assert.Error(t, err)
}

func TestLoader_RejectsDeepJSON(t *testing.T) {
	content := strings.Repeat("{\"a\":", 150) + "1" + strings.Repeat("}", 150)
	path := writeConfigFile(t, content)

	_, err := NewLoader().LoadFile(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := NewLoader().getDefaults()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(_ *Config) {}, ""},
		{"missing broker url", func(c *Config) { c.MQTT.BrokerURL = "" }, "mqtt.broker_url"},
		{"broker url without scheme", func(c *Config) { c.MQTT.BrokerURL = "localhost:1883" }, "scheme"},
		{"invalid qos", func(c *Config) { c.MQTT.QoS = 3 }, "qos"},
		{"missing postgres url", func(c *Config) { c.Postgres.URL = "" }, "postgres.url"},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis.addr"},
		{"negative ttl", func(c *Config) { c.Redis.TTL = -time.Second }, "ttl"},
		{"port out of range", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid.Clone()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSafeConfig_GetReturnsCopy(t *testing.T) {
	cfg := NewLoader().getDefaults()
	sc := NewSafeConfig(cfg)

	got := sc.Get()
	got.API.Port = 1

	assert.Equal(t, 8000, sc.Get().API.Port, "mutating the copy must not affect stored config")
}

func TestSafeConfig_UpdateValidates(t *testing.T) {
	sc := NewSafeConfig(NewLoader().getDefaults())

	bad := NewLoader().getDefaults()
	bad.MQTT.BrokerURL = ""
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	good := NewLoader().getDefaults()
	good.API.Port = 8081
	require.NoError(t, sc.Update(good))
	assert.Equal(t, 8081, sc.Get().API.Port)
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := NewLoader().getDefaults()
	cfg.MQTT.Password = "hunter2"
	cfg.Redis.Password = "hunter3"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "hunter3")
	assert.Contains(t, s, "[REDACTED]")
}

func TestConfig_SaveToFileRoundTrip(t *testing.T) {
	cfg := NewLoader().getDefaults()
	cfg.API.Port = 8123

	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, loaded.API.Port)
}
