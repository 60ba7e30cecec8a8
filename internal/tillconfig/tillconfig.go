// Package tillconfig reads terminal configuration from
// ~/.config/till/config.json and credentials from ~/.config/till/auth.json.
// Every getter resolves env override > config file > built-in default, so a
// deployment can pin values per terminal without editing files.
package tillconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds sync server settings.
type ServerConfig struct {
	URL string `json:"url"`
}

// SyncSettings tunes the sync engine.
type SyncSettings struct {
	Interval      string `json:"interval,omitempty"`        // periodic cycle, default "5m"
	ProbeInterval string `json:"probe_interval,omitempty"`  // connectivity probe, default "30s"
	MaxAttempts   *int   `json:"max_attempts,omitempty"`    // nil = default 8
	RetentionDays *int   `json:"retention_days,omitempty"`  // completed-item purge, default 7
	FanOut        *int   `json:"fan_out,omitempty"`         // drain concurrency, default 4
	PullPageSize  *int   `json:"pull_page_size,omitempty"`  // default 500
}

// WebhookConfig holds the optional sync-cycle webhook settings.
type WebhookConfig struct {
	URL     string `json:"url,omitempty"`
	Secret  string `json:"secret,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"` // nil = enabled when URL set
}

// Config is the global till config stored at ~/.config/till/config.json.
type Config struct {
	DataDir string        `json:"data_dir,omitempty"`
	Server  ServerConfig  `json:"server"`
	Sync    SyncSettings  `json:"sync"`
	Webhook WebhookConfig `json:"webhook"`
}

// AuthCredentials stores authentication state at ~/.config/till/auth.json.
type AuthCredentials struct {
	APIKey     string `json:"api_key"`
	TerminalID string `json:"terminal_id"`
	StoreID    string `json:"store_id,omitempty"`
	ServerURL  string `json:"server_url,omitempty"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/till, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "till")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/till/config.json.
// A missing file is not an error; defaults apply.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config to ~/.config/till/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads credentials from ~/.config/till/auth.json. Returns nil with
// no error when the terminal has never been authenticated.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes credentials to ~/.config/till/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetDataDir returns the directory holding the local database.
// Priority: TILL_DATA_DIR env > config.json data_dir > ~/.local/share/till.
func GetDataDir() (string, error) {
	if v := os.Getenv("TILL_DATA_DIR"); v != "" {
		return v, nil
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "till"), nil
}

// GetServerURL returns the POS server URL.
// Priority: TILL_SERVER_URL env > config.json > auth.json > default.
func GetServerURL() string {
	if v := os.Getenv("TILL_SERVER_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Server.URL != "" {
		return cfg.Server.URL
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: TILL_API_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("TILL_API_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetTerminalID returns this terminal's stable id, generating and persisting
// one on first use.
func GetTerminalID() (string, error) {
	if v := os.Getenv("TILL_TERMINAL_ID"); v != "" {
		return v, nil
	}
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.TerminalID != "" {
		return creds.TerminalID, nil
	}

	id, err := GenerateTerminalID()
	if err != nil {
		return "", err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.TerminalID = id
	if err := SaveAuth(creds); err != nil {
		return "", fmt.Errorf("persist terminal id: %w", err)
	}
	return id, nil
}

// GenerateTerminalID creates a new random terminal id (16 bytes hex).
func GenerateTerminalID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetSyncInterval returns the periodic sync-cycle interval.
// Priority: TILL_SYNC_INTERVAL env > config.json sync.interval > 5m.
func GetSyncInterval() time.Duration {
	return durationSetting("TILL_SYNC_INTERVAL", func(c *Config) string { return c.Sync.Interval }, 5*time.Minute)
}

// GetProbeInterval returns the connectivity probe interval.
// Priority: TILL_PROBE_INTERVAL env > config.json sync.probe_interval > 30s.
func GetProbeInterval() time.Duration {
	return durationSetting("TILL_PROBE_INTERVAL", func(c *Config) string { return c.Sync.ProbeInterval }, 30*time.Second)
}

// GetMaxAttempts returns the transient-failure retry budget per mutation.
// Priority: TILL_SYNC_MAX_ATTEMPTS env > config.json sync.max_attempts > 8.
func GetMaxAttempts() int {
	return intSetting("TILL_SYNC_MAX_ATTEMPTS", func(c *Config) *int { return c.Sync.MaxAttempts }, 8)
}

// GetRetentionDays returns how long completed queue items are kept.
// Priority: TILL_SYNC_RETENTION_DAYS env > config.json sync.retention_days > 7.
func GetRetentionDays() int {
	return intSetting("TILL_SYNC_RETENTION_DAYS", func(c *Config) *int { return c.Sync.RetentionDays }, 7)
}

// GetFanOut returns the drain concurrency limit.
// Priority: TILL_SYNC_FAN_OUT env > config.json sync.fan_out > 4.
func GetFanOut() int {
	return intSetting("TILL_SYNC_FAN_OUT", func(c *Config) *int { return c.Sync.FanOut }, 4)
}

// GetPullPageSize returns the pull page size.
// Priority: TILL_SYNC_PULL_PAGE_SIZE env > config.json sync.pull_page_size > 500.
func GetPullPageSize() int {
	return intSetting("TILL_SYNC_PULL_PAGE_SIZE", func(c *Config) *int { return c.Sync.PullPageSize }, 500)
}

// GetWebhookURL returns the sync-cycle webhook URL, or "" when unset.
// Priority: TILL_WEBHOOK_URL env > config.json webhook.url.
func GetWebhookURL() string {
	if v := os.Getenv("TILL_WEBHOOK_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.Webhook.URL
	}
	return ""
}

// GetWebhookSecret returns the webhook HMAC secret.
// Priority: TILL_WEBHOOK_SECRET env > config.json webhook.secret.
func GetWebhookSecret() string {
	if v := os.Getenv("TILL_WEBHOOK_SECRET"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.Webhook.Secret
	}
	return ""
}

// GetWebhookEnabled reports whether the webhook should fire.
// Priority: TILL_WEBHOOK_ENABLED env > config.json webhook.enabled > URL set.
func GetWebhookEnabled() bool {
	if v := parseBoolEnv("TILL_WEBHOOK_ENABLED"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Webhook.Enabled != nil {
		return *cfg.Webhook.Enabled
	}
	return GetWebhookURL() != ""
}

func durationSetting(envKey string, field func(*Config) string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && field(cfg) != "" {
		if d, err := time.ParseDuration(field(cfg)); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func intSetting(envKey string, field func(*Config) *int, def int) int {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil {
		if p := field(cfg); p != nil && *p > 0 {
			return *p
		}
	}
	return def
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := strings.ToLower(os.Getenv(envKey))
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}
