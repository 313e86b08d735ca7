package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
accounts:
  default:
    enabled: true
    credentials:
      client_id: id
      client_secret: secret
    allow_from:
      - bob@corp.com
`))
	if err != nil {
		t.Fatal(err)
	}

	acct, ok := cfg.Accounts["default"]
	if !ok {
		t.Fatal("default account missing")
	}
	if acct.Transport != "gmail" {
		t.Errorf("Transport = %q, want gmail", acct.Transport)
	}
	if acct.PollIntervalMs != DefaultPollIntervalMs {
		t.Errorf("PollIntervalMs = %d, want %d", acct.PollIntervalMs, DefaultPollIntervalMs)
	}
	if acct.MaxFetch != DefaultMaxFetch {
		t.Errorf("MaxFetch = %d, want %d", acct.MaxFetch, DefaultMaxFetch)
	}
	if cfg.Routing.HostCLI != "moltbot" {
		t.Errorf("HostCLI = %q, want moltbot", cfg.Routing.HostCLI)
	}
	if cfg.Routing.SessionScope != "dm" {
		t.Errorf("SessionScope = %q, want dm", cfg.Routing.SessionScope)
	}
}

func TestParseKeepsExplicitValues(t *testing.T) {
	cfg, err := Parse([]byte(`
accounts:
  work:
    enabled: true
    transport: imap
    poll_interval_ms: 5000
    max_fetch: 3
    subject_prefix: "[Bot]"
    imap:
      server: imap.example.com:993
      username: bot@example.com
      folder: INBOX
routing:
  host_cli: /usr/local/bin/moltbot
  session_scope: group
`))
	if err != nil {
		t.Fatal(err)
	}

	acct := cfg.Accounts["work"]
	if acct.Transport != "imap" {
		t.Errorf("Transport = %q", acct.Transport)
	}
	if acct.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", acct.PollInterval())
	}
	if acct.MaxFetch != 3 {
		t.Errorf("MaxFetch = %d", acct.MaxFetch)
	}
	if acct.IMAP == nil || acct.IMAP.Server != "imap.example.com:993" {
		t.Errorf("IMAP = %+v", acct.IMAP)
	}
	if cfg.Routing.HostCLI != "/usr/local/bin/moltbot" {
		t.Errorf("HostCLI = %q", cfg.Routing.HostCLI)
	}
	if cfg.Routing.SessionScope != "group" {
		t.Errorf("SessionScope = %q", cfg.Routing.SessionScope)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Accounts == nil {
		t.Error("Accounts should be initialized")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte("accounts: [not a map")); err == nil {
		t.Error("expected parse error")
	}
}

func TestPollIntervalDefault(t *testing.T) {
	var acct Account
	if acct.PollInterval() != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", acct.PollInterval())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := &Config{
		Accounts: map[string]*Account{
			"default": {
				Enabled:   true,
				Transport: "gmail",
				Credentials: &Credentials{
					ClientID:     "id",
					ClientSecret: "secret",
					RefreshToken: "tok",
				},
				AllowFrom:      []string{"bob@corp.com"},
				PollIntervalMs: 10000,
				MaxFetch:       5,
			},
		},
	}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	acct := loaded.Accounts["default"]
	if acct == nil {
		t.Fatal("account missing after round trip")
	}
	if acct.Credentials.RefreshToken != "tok" {
		t.Errorf("RefreshToken = %q", acct.Credentials.RefreshToken)
	}
	if acct.PollIntervalMs != 10000 || acct.MaxFetch != 5 {
		t.Errorf("explicit values lost: %+v", acct)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
