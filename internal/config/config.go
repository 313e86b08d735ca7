// Package config loads and validates the channel configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPollIntervalMs is used when an account does not set poll_interval_ms.
	DefaultPollIntervalMs = 30000

	// DefaultMaxFetch bounds how many unread messages one poll cycle requests.
	DefaultMaxFetch = 10
)

// Credentials holds Gmail OAuth2 client credentials.
type Credentials struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	RedirectURI  string `yaml:"redirect_uri"`
}

// IMAPConfig holds settings for the generic IMAP transport.
type IMAPConfig struct {
	Server      string `yaml:"server"` // e.g. "imap.fastmail.com:993"
	Username    string `yaml:"username"`
	PasswordCmd string `yaml:"password_cmd"` // Command to get password
	Folder      string `yaml:"folder"`       // e.g. "INBOX"
}

// SMTPConfig holds settings for sending replies over the IMAP transport.
type SMTPConfig struct {
	Server      string `yaml:"server"`
	Username    string `yaml:"username"`
	PasswordCmd string `yaml:"password_cmd"`
	From        string `yaml:"from"`
}

// Account is the per-mailbox channel configuration. It is read as a
// snapshot each poll cycle and never mutated by the channel itself.
type Account struct {
	Enabled          bool         `yaml:"enabled"`
	Transport        string       `yaml:"transport"` // "gmail" (default) or "imap"
	Credentials      *Credentials `yaml:"credentials,omitempty"`
	IMAP             *IMAPConfig  `yaml:"imap,omitempty"`
	SMTP             *SMTPConfig  `yaml:"smtp,omitempty"`
	AllowFrom        []string     `yaml:"allow_from"`
	AllowTo          []string     `yaml:"allow_to"`
	PollIntervalMs   int          `yaml:"poll_interval_ms"`
	SubjectPrefix    string       `yaml:"subject_prefix"`
	DefaultRecipient string       `yaml:"default_recipient"`
	MaxFetch         int64        `yaml:"max_fetch"`
}

// PollInterval returns the configured poll interval as a duration.
func (a *Account) PollInterval() time.Duration {
	ms := a.PollIntervalMs
	if ms <= 0 {
		ms = DefaultPollIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Routing configures the bridge to the Moltbot host runtime.
type Routing struct {
	HostCLI      string `yaml:"host_cli"`      // path to the moltbot CLI
	SessionScope string `yaml:"session_scope"` // "dm" or "group"
	StateDB      string `yaml:"state_db"`      // session store path
}

// Config is the full configuration file.
type Config struct {
	Accounts map[string]*Account `yaml:"accounts"`
	Routing  Routing             `yaml:"routing"`
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "moltbot-email", "config.yaml")
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses configuration bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Accounts == nil {
		c.Accounts = map[string]*Account{}
	}
	for _, acct := range c.Accounts {
		if acct.Transport == "" {
			acct.Transport = "gmail"
		}
		if acct.PollIntervalMs <= 0 {
			acct.PollIntervalMs = DefaultPollIntervalMs
		}
		if acct.MaxFetch <= 0 {
			acct.MaxFetch = DefaultMaxFetch
		}
	}
	if c.Routing.HostCLI == "" {
		c.Routing.HostCLI = "moltbot"
	}
	if c.Routing.SessionScope == "" {
		c.Routing.SessionScope = "dm"
	}
}

// Save writes the configuration back to disk, creating the directory
// if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}
