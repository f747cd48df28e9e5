// Package config loads loader.yaml and applies environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sutera/worldloader/internal/world"
)

// Config is the service configuration.
type Config struct {
	Version int `yaml:"version"`
	Room    struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"room"`
	World struct {
		// Path is loaded at startup when set.
		Path        string `yaml:"path"`
		MountRoot   string `yaml:"mount_root"`
		ModelsDir   string `yaml:"models_dir"`
		Workers     int    `yaml:"workers"`
		RestoreLast bool   `yaml:"restore_last"`
	} `yaml:"world"`
	Network struct {
		HTTPPort int    `yaml:"http_port"`
		TLSCert  string `yaml:"tls_cert"`
		TLSKey   string `yaml:"tls_key"`
	} `yaml:"network"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		TopicPrefix string `yaml:"topic_prefix"`
		Password    string `yaml:"-"`
	} `yaml:"mqtt"`
	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
		Password string `yaml:"-"`
	} `yaml:"postgres"`
	Alerts struct {
		WebhookURL    string        `yaml:"webhook_url"`
		MQTTDelay     time.Duration `yaml:"mqtt_delay"`
		PostgresDelay time.Duration `yaml:"postgres_delay"`
	} `yaml:"alerts"`

	Auth Auth `yaml:"-"`
}

// Auth holds HTTP basic-auth credentials. Auth is off unless the admin
// pair is set.
type Auth struct {
	AdminUser    string
	AdminPass    string
	OperatorUser string
	OperatorPass string
}

// Enabled reports whether credentials are configured.
func (a Auth) Enabled() bool {
	return a.AdminUser != "" && a.AdminPass != ""
}

// HTTPPort returns the configured port, defaulting to 8080.
func (c *Config) HTTPPort() int {
	if c.Network.HTTPPort == 0 {
		return 8080
	}
	return c.Network.HTTPPort
}

// TLSEnabled reports whether both a certificate and a key are configured.
func (c *Config) TLSEnabled() bool {
	return c.Network.TLSCert != "" && c.Network.TLSKey != ""
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Version = 1
	c.Room.ID = "default"
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.Room.ID == "" {
		c.Room.ID = "default"
	}
	if c.World.MountRoot == "" {
		c.World.MountRoot = world.DefaultMountRoot
	}
	if c.World.ModelsDir == "" {
		c.World.ModelsDir = "models"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "sutera"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "worldloader-" + c.Room.ID
	}
	if c.Postgres.Host == "" {
		c.Postgres.Host = "127.0.0.1"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.User == "" {
		c.Postgres.User = "sutera"
	}
	if c.Postgres.Database == "" {
		c.Postgres.Database = "sutera"
	}
	if c.Alerts.MQTTDelay == 0 {
		c.Alerts.MQTTDelay = 30 * time.Second
	}
	if c.Alerts.PostgresDelay == 0 {
		c.Alerts.PostgresDelay = 5 * time.Second
	}
}

// Load reads path, applies defaults, environment overrides and secrets.
// An empty path starts from Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = &Config{}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if cfg.Version != 1 {
			return nil, fmt.Errorf("unsupported loader.yaml version: %d", cfg.Version)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if cfg.World.Workers < 0 {
		return nil, fmt.Errorf("world.workers must not be negative, got %d", cfg.World.Workers)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := os.Getenv(name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v := os.Getenv(name)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
		return nil
	}

	str("SUTERA_ROOM_ID", &c.Room.ID)
	str("SUTERA_WORLD_PATH", &c.World.Path)
	str("SUTERA_MODELS_DIR", &c.World.ModelsDir)
	str("MQTT_URL", &c.MQTT.Broker)
	str("SUTERA_MQTT_BROKER", &c.MQTT.Broker)
	str("SUTERA_TLS_CERT", &c.Network.TLSCert)
	str("SUTERA_TLS_KEY", &c.Network.TLSKey)
	str("PGHOST", &c.Postgres.Host)
	str("PGUSER", &c.Postgres.User)
	str("PGDATABASE", &c.Postgres.Database)
	str("SUTERA_ALERT_WEBHOOK_URL", &c.Alerts.WebhookURL)
	if err := dur("SUTERA_MQTT_ALERT_DELAY", &c.Alerts.MQTTDelay); err != nil {
		return err
	}
	if err := dur("SUTERA_POSTGRES_ALERT_DELAY", &c.Alerts.PostgresDelay); err != nil {
		return err
	}
	if err := num("SUTERA_HTTP_PORT", &c.Network.HTTPPort); err != nil {
		return err
	}
	if err := num("SUTERA_WORKERS", &c.World.Workers); err != nil {
		return err
	}
	return num("PGPORT", &c.Postgres.Port)
}
