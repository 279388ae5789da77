package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration.
// Precedence: defaults, then the YAML file, then TIMETAGGER_* environment variables.
type Config struct {
	Timezone     string         `yaml:"timezone"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	Store        StoreConfig    `yaml:"store"`
	HTTP         HTTPConfig     `yaml:"http"`
	MQTT         MQTTConfig     `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig `yaml:"influxdb"`
	Logging      LoggingConfig  `yaml:"logging"`
	Bootstrap    BootstrapEntry `yaml:"bootstrap"`
}

// StoreConfig selects where config entries are persisted.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite or mysql
	// DSN is a file path for sqlite or a go-sql-driver DSN for mysql,
	// e.g. user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
	DSN string `yaml:"dsn"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MQTTConfig configures the Home Assistant discovery sink.
type MQTTConfig struct {
	Enabled         bool             `yaml:"enabled"`
	Broker          MQTTBrokerConfig `yaml:"broker"`
	Auth            MQTTAuthConfig   `yaml:"auth"`
	QoS             int              `yaml:"qos"`
	DiscoveryPrefix string           `yaml:"discovery_prefix"`
	BaseTopic       string           `yaml:"base_topic"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig configures the sensor history sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// BootstrapEntry creates the first config entry when the store is empty.
// It is usually filled from TIMETAGGER_API_URL and TIMETAGGER_TOKEN.
type BootstrapEntry struct {
	APIURL      string   `yaml:"api_url"`
	Token       string   `yaml:"token"`
	WorkTags    string   `yaml:"work_tags"`
	DailyTarget *float64 `yaml:"daily_target"`
}

// Enabled reports whether both required bootstrap fields are set.
func (b BootstrapEntry) Enabled() bool {
	return b.APIURL != "" && b.Token != ""
}

// Load reads configuration from an optional .env file, an optional YAML file
// (empty path skips it) and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Timezone:     "UTC",
		PollInterval: 5 * time.Minute,
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "./data/timetagger-sensors.db",
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "timetagger-sensors",
			},
			QoS:             1,
			DiscoveryPrefix: "homeassistant",
			BaseTopic:       "timetagger",
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "timetagger",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides applies TIMETAGGER_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"TIMETAGGER_TZ":              &cfg.Timezone,
		"TIMETAGGER_STORE_DRIVER":    &cfg.Store.Driver,
		"TIMETAGGER_STORE_DSN":       &cfg.Store.DSN,
		"TIMETAGGER_HTTP_ADDR":       &cfg.HTTP.Addr,
		"TIMETAGGER_MQTT_HOST":       &cfg.MQTT.Broker.Host,
		"TIMETAGGER_MQTT_USERNAME":   &cfg.MQTT.Auth.Username,
		"TIMETAGGER_MQTT_PASSWORD":   &cfg.MQTT.Auth.Password,
		"TIMETAGGER_INFLUXDB_URL":    &cfg.InfluxDB.URL,
		"TIMETAGGER_INFLUXDB_TOKEN":  &cfg.InfluxDB.Token,
		"TIMETAGGER_INFLUXDB_ORG":    &cfg.InfluxDB.Org,
		"TIMETAGGER_INFLUXDB_BUCKET": &cfg.InfluxDB.Bucket,
		"TIMETAGGER_LOG_LEVEL":       &cfg.Logging.Level,
		"TIMETAGGER_LOG_FORMAT":      &cfg.Logging.Format,
		"TIMETAGGER_API_URL":         &cfg.Bootstrap.APIURL,
		"TIMETAGGER_TOKEN":           &cfg.Bootstrap.Token,
		"TIMETAGGER_WORK_TAGS":       &cfg.Bootstrap.WorkTags,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	var errs []string
	if v := os.Getenv("TIMETAGGER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, "TIMETAGGER_POLL_INTERVAL must be a duration like 5m")
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("TIMETAGGER_MQTT_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, "TIMETAGGER_MQTT_PORT must be an integer")
		}
		cfg.MQTT.Broker.Port = p
	}
	for name, dst := range map[string]*bool{
		"TIMETAGGER_MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"TIMETAGGER_INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
	} {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, name+" must be a boolean")
			}
			*dst = b
		}
	}
	if v := os.Getenv("TIMETAGGER_DAILY_TARGET"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, "TIMETAGGER_DAILY_TARGET must be a number")
		}
		cfg.Bootstrap.DailyTarget = &f
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is not a known location", c.Timezone))
	}
	if c.PollInterval < time.Second {
		errs = append(errs, "poll_interval must be at least 1s")
	}

	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, "store.driver must be sqlite or mysql")
	}
	if c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required")
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.DiscoveryPrefix == "" || c.MQTT.BaseTopic == "" {
			errs = append(errs, "mqtt.discovery_prefix and mqtt.base_topic are required")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the configured time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
