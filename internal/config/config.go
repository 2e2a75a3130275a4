// Package config loads relayd's configuration from a YAML file with an
// environment-variable overlay. Grounded on SnapdragonPartners-maestro and
// DeBrosOfficial-network's gopkg.in/yaml.v3 config files, layered with
// adred-codev-ws_poc's github.com/caarlos0/env/v11 pattern for letting
// deployment environments override individual fields without editing YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is relayd's complete runtime configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"RELAYD_LISTEN_ADDR" envDefault:":8222"`
	AdminAddr  string `yaml:"admin_addr" env:"RELAYD_ADMIN_ADDR" envDefault:":8223"`

	IdleTimeout time.Duration `yaml:"idle_timeout" env:"RELAYD_IDLE_TIMEOUT" envDefault:"10m"`

	// Workers sizes the storage worker pool. 0 (the default) means "use
	// runtime.GOMAXPROCS(0)*4", set after automaxprocs applies cgroup
	// limits; a positive value overrides that for deployments that need
	// a different ceiling than the container's visible CPU count implies.
	Workers int `yaml:"workers" env:"RELAYD_WORKERS" envDefault:"0"`

	Bus struct {
		URL string `yaml:"url" env:"RELAYD_BUS_URL" envDefault:"nats://127.0.0.1:4222"`
	} `yaml:"bus"`

	Queue struct {
		Brokers           []string `yaml:"brokers" env:"RELAYD_QUEUE_BROKERS" envSeparator:","`
		NotificationTopic string   `yaml:"notification_topic" env:"RELAYD_NOTIFICATION_TOPIC" envDefault:"chat-notifications"`
		AuditTopic        string   `yaml:"audit_topic" env:"RELAYD_AUDIT_TOPIC" envDefault:"chat-audit"`
	} `yaml:"queue"`

	Auth struct {
		SigningKey string        `yaml:"signing_key" env:"RELAYD_AUTH_SIGNING_KEY"`
		Serial     int           `yaml:"serial" env:"RELAYD_AUTH_SERIAL"`
		TokenTTL   time.Duration `yaml:"token_ttl" env:"RELAYD_AUTH_TOKEN_TTL" envDefault:"24h"`
	} `yaml:"auth"`
}

// Load reads path (if non-empty and present) as YAML, then applies
// environment-variable overrides on top — the same file-then-env
// layering adred-codev-ws_poc's config loader uses.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: applying environment overrides: %w", err)
	}

	if cfg.Auth.SigningKey == "" {
		return nil, fmt.Errorf("config: auth.signing_key (RELAYD_AUTH_SIGNING_KEY) is required")
	}

	return &cfg, nil
}
