package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Environment string

const (
	Demo Environment = "demo"
	Live Environment = "live"
)

type BrokerConfig struct {
	Environment Environment   `yaml:"environment"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`

	HistoryRatePerMinute int           `yaml:"history_rate_per_minute"`
	QuoteRatePerMinute   int           `yaml:"quote_rate_per_minute"`
	RateLimitBackoff     time.Duration `yaml:"rate_limit_backoff"`
}

const (
	_timeoutDefault              = 30 * time.Second
	_historyRatePerMinuteDefault = 60
	_quoteRatePerMinuteDefault   = 120
	_rateLimitBackoffDefault     = 5 * time.Second
)

func (c *BrokerConfig) Setup() error {
	if c.BaseURL == "" {
		return fmt.Errorf("broker base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return err
	}

	if c.Environment == "" {
		c.Environment = Demo
	}
	if c.Environment != Demo && c.Environment != Live {
		return fmt.Errorf("unknown broker environment: %s", c.Environment)
	}
	if c.Timeout <= 0 {
		c.Timeout = _timeoutDefault
	}
	if c.HistoryRatePerMinute <= 0 {
		c.HistoryRatePerMinute = _historyRatePerMinuteDefault
	}
	if c.QuoteRatePerMinute <= 0 {
		c.QuoteRatePerMinute = _quoteRatePerMinuteDefault
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = _rateLimitBackoffDefault
	}

	return nil
}

type SyncConfig struct {
	FirstSyncCap int `yaml:"first_sync_cap"`
}

const _firstSyncCapDefault = 100

func (c *SyncConfig) Setup() {
	if c.FirstSyncCap <= 0 {
		c.FirstSyncCap = _firstSyncCapDefault
	}
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

const _portDefault = "8080"

func (c *ServerConfig) Setup() {
	if c.Port == "" {
		c.Port = _portDefault
	}
}

type Config struct {
	Broker BrokerConfig `yaml:"broker"`
	Sync   SyncConfig   `yaml:"sync"`
	Server ServerConfig `yaml:"server"`

	// EncryptionKey protects stored account credentials. It is an explicit
	// configuration value, never derived at process start.
	EncryptionKey string `yaml:"-"`
}

func (c *Config) ValidateAndSetup() error {
	if err := c.Broker.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup broker cfg", err)
	}
	c.Sync.Setup()
	c.Server.Setup()

	c.EncryptionKey = os.Getenv("TRACKER_ENCRYPTION_KEY")
	if c.EncryptionKey == "" {
		return fmt.Errorf("empty TRACKER_ENCRYPTION_KEY")
	}

	return nil
}

func Load(filename string) (Config, error) {
	var cfg Config
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}
