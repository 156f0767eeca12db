package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon configuration
type Config struct {
	ServerAddr string `toml:"server_addr"`
	MaxWorkers int    `toml:"max_workers"`

	// Webhook verification
	WebhookSecret string `toml:"webhook_secret"`

	// Source-control API (empty means https://api.github.com)
	ForgeBaseURL string `toml:"forge_base_url"`

	// AI reviewer
	ReviewerBaseURL string `toml:"reviewer_base_url"`
	ReviewerAPIKey  string `toml:"reviewer_api_key"`
	ReviewerModel   string `toml:"reviewer_model"`

	// Review guidelines appended to every review prompt
	ReviewGuidelines string `toml:"review_guidelines"`

	// Metered billing (empty disables Stripe reporting)
	StripeSecretKey string `toml:"stripe_secret_key"`

	// Quota counter backend: "sqlite" (embedded) or "postgres"
	QuotaBackend     string `toml:"quota_backend"`
	QuotaPostgresDSN string `toml:"quota_postgres_dsn"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerAddr:    "127.0.0.1:8484",
		MaxWorkers:    5,
		ReviewerModel: "gpt-4o",
		QuotaBackend:  "sqlite",
	}
}

// DataDir returns the reviewbot data directory.
// Uses REVIEWBOT_DATA_DIR env var if set, otherwise ~/.reviewbot
func DataDir() string {
	if dir := os.Getenv("REVIEWBOT_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reviewbot")
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load loads the configuration from the default path
func Load() (*Config, error) {
	return LoadFrom(GlobalConfigPath())
}

// LoadFrom loads the configuration from a specific path.
// A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the default path
func Save(cfg *Config) error {
	path := GlobalConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
