package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBFile             string        `yaml:"db_file"`
	AdminAddr          string        `yaml:"admin_addr"`
	APIAddr            string        `yaml:"api_addr"`
	AuthSecret         string        `yaml:"auth_secret"`
	TokenExpiry        time.Duration `yaml:"-"`
	SubscriptionBuffer int           `yaml:"subscription_buffer"`
}

// fileConfig is the YAML overlay. Durations are strings ("24h").
type fileConfig struct {
	Config      `yaml:",inline"`
	TokenExpiry string `yaml:"token_expiry"`
}

// Load builds the configuration from defaults, then the YAML file named by
// FITCHAT_CONFIG (if set), then environment variables.
func Load(cliMode bool) (*Config, error) {
	cfg := &Config{
		DBFile:             "fitchat.db",
		AdminAddr:          "localhost:8081",
		APIAddr:            ":8080",
		TokenExpiry:        24 * time.Hour,
		SubscriptionBuffer: 16,
	}

	if path := os.Getenv("FITCHAT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.DBFile = getEnv("FITCHAT_DB", cfg.DBFile)
	cfg.AdminAddr = getEnv("ADMIN_ADDR", cfg.AdminAddr)
	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.AuthSecret = getEnv("AUTH_SECRET", cfg.AuthSecret)
	if v, ok := os.LookupEnv("TOKEN_EXPIRY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
		}
		cfg.TokenExpiry = d
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	fc := fileConfig{Config: *c}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	tokenExpiry := c.TokenExpiry
	if fc.TokenExpiry != "" {
		tokenExpiry, err = time.ParseDuration(fc.TokenExpiry)
		if err != nil {
			return fmt.Errorf("token_expiry: %w", err)
		}
	}

	*c = fc.Config
	c.TokenExpiry = tokenExpiry
	return nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.SubscriptionBuffer <= 0 {
		return fmt.Errorf("subscription_buffer must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
