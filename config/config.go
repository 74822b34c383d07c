// Package config loads the storefront configuration and campaign record.
package config

import (
	"fmt"
	"net/mail"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storefront configuration
type Config struct {
	HTTP         HTTPConfig   `yaml:"http"`
	Store        StoreConfig  `yaml:"store"`
	AMQP         AMQPConfig   `yaml:"amqp"`
	NATS         NATSConfig   `yaml:"nats"`
	Auth         AuthConfig   `yaml:"auth"`
	Pledge       PledgeConfig `yaml:"pledge"`
	CampaignFile string       `yaml:"campaign_file"`

	pledgeSet bool
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig configures the live order store. An empty DSN means no live
// backend is configured and orders live in memory only.
type StoreConfig struct {
	DSN            string        `yaml:"dsn"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func (s StoreConfig) LiveConfigured() bool {
	return s.DSN != ""
}

type AMQPConfig struct {
	// URL is the RabbitMQ URL (empty = no AMQP events or payment updates)
	URL            string `yaml:"url"`
	Exchange       string `yaml:"exchange"`
	PaymentUpdates string `yaml:"payment_updates_queue"`
}

type NATSConfig struct {
	// URL is the NATS server URL (empty = no NATS events)
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	AdminEmail string        `yaml:"admin_email"`
	MockUser   MockUser      `yaml:"mock_user"`
}

type MockUser struct {
	ID          string `yaml:"id"`
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
}

type PledgeConfig struct {
	RequireConsent bool `yaml:"require_consent"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			ConnectTimeout: 5 * time.Second,
		},
		AMQP: AMQPConfig{
			Exchange:       "orders",
			PaymentUpdates: "payment_updates",
		},
		NATS: NATSConfig{
			SubjectPrefix: "storefront",
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			AdminEmail: "admin@gmail.com",
			MockUser: MockUser{
				ID:          "mock-user-123",
				Email:       "user@example.com",
				DisplayName: "Mock User",
			},
		},
		Pledge: PledgeConfig{
			RequireConsent: true,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be positive")
	}
	if c.Store.LiveConfigured() && c.Store.ConnectTimeout <= 0 {
		return fmt.Errorf("store.connect_timeout must be positive")
	}
	if c.AMQP.URL != "" && c.AMQP.PaymentUpdates == "" {
		return fmt.Errorf("amqp.payment_updates_queue is required when amqp.url is set")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if _, err := mail.ParseAddress(c.Auth.AdminEmail); err != nil {
		return fmt.Errorf("auth.admin_email: %w", err)
	}
	if c.Auth.MockUser.ID == "" {
		return fmt.Errorf("auth.mock_user.id is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// require_consent defaults to true, so an explicit false has to be seen
	// in the document itself.
	var raw struct {
		Pledge struct {
			RequireConsent *bool `yaml:"require_consent"`
		} `yaml:"pledge"`
	}
	if err := yaml.Unmarshal(data, &raw); err == nil && raw.Pledge.RequireConsent != nil {
		config.pledgeSet = true
	}

	return config, nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.ShutdownTimeout != 0 {
		c.HTTP.ShutdownTimeout = other.HTTP.ShutdownTimeout
	}

	if other.Store.DSN != "" {
		c.Store.DSN = other.Store.DSN
	}
	if other.Store.ConnectTimeout != 0 {
		c.Store.ConnectTimeout = other.Store.ConnectTimeout
	}

	if other.AMQP.URL != "" {
		c.AMQP.URL = other.AMQP.URL
	}
	if other.AMQP.Exchange != "" {
		c.AMQP.Exchange = other.AMQP.Exchange
	}
	if other.AMQP.PaymentUpdates != "" {
		c.AMQP.PaymentUpdates = other.AMQP.PaymentUpdates
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	if other.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = other.Auth.JWTSecret
	}
	if other.Auth.TokenTTL != 0 {
		c.Auth.TokenTTL = other.Auth.TokenTTL
	}
	if other.Auth.AdminEmail != "" {
		c.Auth.AdminEmail = other.Auth.AdminEmail
	}
	if other.Auth.MockUser.ID != "" {
		c.Auth.MockUser = other.Auth.MockUser
	}

	if other.pledgeSet {
		c.Pledge.RequireConsent = other.Pledge.RequireConsent
	}

	if other.CampaignFile != "" {
		c.CampaignFile = other.CampaignFile
	}
}
