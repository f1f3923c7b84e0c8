// Package config loads the configuration of the octo-books binary
// from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port int `yaml:"port" env:"PORT"`
	// URL of the catalog API and UI.
	Origin string `yaml:"origin" env:"CATALOG_ORIGIN"`
	// Hostname to use for origin requests and TLS, if the origin URL is just an IP address.
	OriginHost string      `yaml:"originHost" env:"CATALOG_ORIGIN_HOST"`
	Cache      CacheConfig `yaml:"cache" envPrefix:"CACHE_"`
	Push       PushConfig  `yaml:"push"`
}

type CacheConfig struct {
	// sqlite, bolt or memory
	Provider string `yaml:"provider" env:"PROVIDER"`
	DB       string `yaml:"db" env:"DB"`
	Name     string `yaml:"name" env:"NAME"`
	// Bumping the version drops every partition of other versions on start.
	Version  string   `yaml:"version" env:"VERSION"`
	Precache []string `yaml:"precache" env:"PRECACHE" envSeparator:","`
	// Request headers that select between stored responses.
	Headers []string `yaml:"headers" env:"HEADERS" envSeparator:","`
	// Host+path prefixes of remote image stores.
	ImagePrefixes []string `yaml:"imagePrefixes" env:"IMAGE_PREFIXES" envSeparator:","`
}

type PushConfig struct {
	// Subscription db file name, or "memory".
	DB              string `yaml:"db" env:"PUSH_DB"`
	VAPIDPublicKey  string `yaml:"vapidPublicKey" env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `yaml:"vapidPrivateKey" env:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `yaml:"vapidSubject" env:"VAPID_SUBJECT"`
	// Guards the notify endpoint. Notifications are disabled while empty.
	Password string `yaml:"password" env:"NOTIFICATION_PASSWORD"`
	// Seconds push services keep undelivered notifications.
	TTL   int    `yaml:"ttl" env:"PUSH_TTL"`
	Icon  string `yaml:"icon" env:"PUSH_ICON"`
	Badge string `yaml:"badge" env:"PUSH_BADGE"`
}

// Load reads the config file, if any, and applies environment overrides and defaults.
func Load(filename string) (Config, error) {
	var config Config
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	config.SetDefaults()
	return config, nil
}

func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Cache.Provider == "" {
		c.Cache.Provider = "sqlite"
	}
	if c.Cache.DB == "" {
		c.Cache.DB = "cache.db"
	}
	if c.Cache.Name == "" {
		c.Cache.Name = "octo-books"
	}
	if c.Cache.Version == "" {
		c.Cache.Version = "v1"
	}
	if c.Cache.Precache == nil {
		c.Cache.Precache = []string{"/", "/index.html", "/manifest.json"}
	}
	if c.Push.DB == "" {
		c.Push.DB = "push.db"
	}
	if c.Push.VAPIDSubject == "" {
		c.Push.VAPIDSubject = "mailto:admin@octobooks.com"
	}
	if c.Push.TTL == 0 {
		c.Push.TTL = 24 * 60 * 60
	}
	if c.Push.Icon == "" {
		c.Push.Icon = "/icons/icon-192x192.png"
	}
	if c.Push.Badge == "" {
		c.Push.Badge = "/icons/icon-72x72.png"
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Origin == "" {
		return errors.New("no origin configured")
	}
	if u, err := url.Parse(c.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid origin %q", c.Origin)
	}
	switch c.Cache.Provider {
	case "sqlite", "bolt", "memory":
	default:
		return fmt.Errorf("unsupported cache provider: %s", c.Cache.Provider)
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return errors.New("vapid public and private key must be set together")
	}
	return nil
}

// OriginURL returns the parsed origin.
func (c Config) OriginURL() (*url.URL, error) {
	return url.Parse(c.Origin)
}

// PushEnabled reports whether notifications can be delivered.
func (c Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}
