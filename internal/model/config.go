package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// InboxConfig holds the connection settings for one inbox feed.
type InboxConfig struct {
	// BaseURL is the root URL of the inbox webservice.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// InstallationID identifies this device installation. Generated on
	// first run and persisted.
	InstallationID string `mapstructure:"installation_id" yaml:"installation_id"`

	// UserIdentifier, when set, scopes the feed to a logged-in user
	// instead of the installation. Requires an authentication key in
	// the system keyring.
	UserIdentifier string `mapstructure:"user_identifier" yaml:"user_identifier"`
}

// DisplayConfig holds output preferences.
type DisplayConfig struct {
	// ShowSilent includes silent notifications in listings.
	ShowSilent bool `mapstructure:"show_silent" yaml:"show_silent"`

	// PageSize is how many notifications to request per page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// FetchLimit caps how many notifications one session may hold.
	FetchLimit int `mapstructure:"fetch_limit" yaml:"fetch_limit"`
}

// AppConfig is the top-level configuration.
type AppConfig struct {
	Inbox   InboxConfig   `mapstructure:"inbox" yaml:"inbox"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inboxctl/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inboxctl", "config.yaml")
}

// DefaultDatabasePath returns the default location of the local cache,
// next to the configuration file.
func DefaultDatabasePath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "inbox.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Display: DisplayConfig{
			ShowSilent: false,
			PageSize:   20,
			FetchLimit: 200,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("display.show_silent", false)
	v.SetDefault("display.page_size", 20)
	v.SetDefault("display.fetch_limit", 200)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("inbox", cfg.Inbox)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
