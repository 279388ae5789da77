package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timezone != "UTC" || cfg.PollInterval != 5*time.Minute {
		t.Errorf("timezone/interval = %s/%v", cfg.Timezone, cfg.PollInterval)
	}
	if cfg.Store.Driver != "sqlite" || cfg.HTTP.Addr != ":8080" {
		t.Errorf("store/http = %s/%s", cfg.Store.Driver, cfg.HTTP.Addr)
	}
	if cfg.MQTT.Enabled || cfg.InfluxDB.Enabled {
		t.Error("sinks should be disabled by default")
	}
	if cfg.Bootstrap.Enabled() {
		t.Error("bootstrap should be disabled without env")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
timezone: Europe/Berlin
poll_interval: 2m
store:
  driver: mysql
  dsn: "u:p@tcp(db:3306)/tt?parseTime=true"
mqtt:
  enabled: true
  broker:
    host: broker
    port: 8883
    tls: true
influxdb:
  enabled: true
  url: http://influx:8086
  org: home
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		if strings.Contains(err.Error(), "timezone") {
			t.Skip("tzdata not available")
		}
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want 2m", cfg.PollInterval)
	}
	if cfg.Store.Driver != "mysql" || !cfg.MQTT.Broker.TLS || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("DiscoveryPrefix default lost: %q", cfg.MQTT.DiscoveryPrefix)
	}
	if cfg.InfluxDB.Bucket != "timetagger" {
		t.Errorf("Bucket default lost: %q", cfg.InfluxDB.Bucket)
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("Location() = %s", cfg.Location())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of a missing file should fail")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "timezone: [")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Fatalf("Load() error = %v, want parse error", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TIMETAGGER_API_URL", "https://tt.example.com/timetagger/")
	t.Setenv("TIMETAGGER_TOKEN", "secret")
	t.Setenv("TIMETAGGER_DAILY_TARGET", "7.5")
	t.Setenv("TIMETAGGER_POLL_INTERVAL", "90s")
	t.Setenv("TIMETAGGER_MQTT_ENABLED", "true")
	t.Setenv("TIMETAGGER_MQTT_PORT", "1884")
	t.Setenv("TIMETAGGER_STORE_DSN", ":memory:")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Bootstrap.Enabled() || cfg.Bootstrap.Token != "secret" {
		t.Errorf("Bootstrap = %+v", cfg.Bootstrap)
	}
	if cfg.Bootstrap.DailyTarget == nil || *cfg.Bootstrap.DailyTarget != 7.5 {
		t.Errorf("DailyTarget = %v", cfg.Bootstrap.DailyTarget)
	}
	if cfg.PollInterval != 90*time.Second || !cfg.MQTT.Enabled || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Store.DSN != ":memory:" {
		t.Errorf("Store.DSN = %q", cfg.Store.DSN)
	}
}

func TestApplyEnvOverridesInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TIMETAGGER_POLL_INTERVAL", "soon")
	t.Setenv("TIMETAGGER_INFLUXDB_ENABLED", "maybe")

	_, err := Load("")
	if err == nil {
		t.Fatal("Load() should fail")
	}
	for _, want := range []string{"TIMETAGGER_POLL_INTERVAL", "TIMETAGGER_INFLUXDB_ENABLED"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TIMETAGGER_HTTP_ADDR=:9191\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("TIMETAGGER_HTTP_ADDR") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":9191" {
		t.Errorf("HTTP.Addr = %q, want :9191 from .env", cfg.HTTP.Addr)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "short interval", mutate: func(c *Config) { c.PollInterval = time.Millisecond }, wantErr: "poll_interval"},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: "store.driver"},
		{name: "empty dsn", mutate: func(c *Config) { c.Store.DSN = "" }, wantErr: "store.dsn"},
		{name: "mqtt qos", mutate: func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "mqtt disabled ignores qos", mutate: func(c *Config) { c.MQTT.QoS = 3 }},
		{name: "influx org", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: "influxdb.org"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
