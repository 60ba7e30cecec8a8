package tillconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolateHome points config resolution at a throwaway home directory.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	// Clear any ambient overrides so defaults are observable
	for _, k := range []string{
		"TILL_DATA_DIR", "TILL_SERVER_URL", "TILL_API_KEY", "TILL_TERMINAL_ID",
		"TILL_SYNC_INTERVAL", "TILL_PROBE_INTERVAL", "TILL_SYNC_MAX_ATTEMPTS",
		"TILL_SYNC_RETENTION_DAYS", "TILL_SYNC_FAN_OUT", "TILL_SYNC_PULL_PAGE_SIZE",
		"TILL_WEBHOOK_URL", "TILL_WEBHOOK_SECRET", "TILL_WEBHOOK_ENABLED",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return home
}

func TestDefaults(t *testing.T) {
	isolateHome(t)

	if got := GetServerURL(); got != "http://localhost:8080" {
		t.Errorf("server url = %s", got)
	}
	if got := GetSyncInterval(); got != 5*time.Minute {
		t.Errorf("sync interval = %v", got)
	}
	if got := GetProbeInterval(); got != 30*time.Second {
		t.Errorf("probe interval = %v", got)
	}
	if got := GetMaxAttempts(); got != 8 {
		t.Errorf("max attempts = %d", got)
	}
	if got := GetRetentionDays(); got != 7 {
		t.Errorf("retention days = %d", got)
	}
	if got := GetFanOut(); got != 4 {
		t.Errorf("fan out = %d", got)
	}
	if got := GetPullPageSize(); got != 500 {
		t.Errorf("pull page size = %d", got)
	}
	if IsAuthenticated() {
		t.Error("authenticated with no key")
	}
	if GetWebhookEnabled() {
		t.Error("webhook enabled with no URL")
	}
}

func TestConfigFileValues(t *testing.T) {
	isolateHome(t)

	maxAttempts := 3
	cfg := &Config{
		Server: ServerConfig{URL: "https://pos.example.com"},
		Sync: SyncSettings{
			Interval:    "90s",
			MaxAttempts: &maxAttempts,
		},
		Webhook: WebhookConfig{URL: "https://hooks.example.com/till"},
	}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	if got := GetServerURL(); got != "https://pos.example.com" {
		t.Errorf("server url = %s", got)
	}
	if got := GetSyncInterval(); got != 90*time.Second {
		t.Errorf("sync interval = %v", got)
	}
	if got := GetMaxAttempts(); got != 3 {
		t.Errorf("max attempts = %d", got)
	}
	if !GetWebhookEnabled() {
		t.Error("webhook should be enabled when URL is set")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	isolateHome(t)

	if err := SaveConfig(&Config{Server: ServerConfig{URL: "https://file.example.com"}}); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	t.Setenv("TILL_SERVER_URL", "https://env.example.com")
	t.Setenv("TILL_SYNC_INTERVAL", "45s")
	t.Setenv("TILL_SYNC_MAX_ATTEMPTS", "12")

	if got := GetServerURL(); got != "https://env.example.com" {
		t.Errorf("server url = %s", got)
	}
	if got := GetSyncInterval(); got != 45*time.Second {
		t.Errorf("sync interval = %v", got)
	}
	if got := GetMaxAttempts(); got != 12 {
		t.Errorf("max attempts = %d", got)
	}
}

func TestBadSettingsFallBack(t *testing.T) {
	isolateHome(t)

	t.Setenv("TILL_SYNC_INTERVAL", "not-a-duration")
	t.Setenv("TILL_SYNC_MAX_ATTEMPTS", "-5")

	if got := GetSyncInterval(); got != 5*time.Minute {
		t.Errorf("sync interval = %v, want default", got)
	}
	if got := GetMaxAttempts(); got != 8 {
		t.Errorf("max attempts = %d, want default", got)
	}
}

func TestTerminalIDGeneratedOnceAndPersisted(t *testing.T) {
	isolateHome(t)

	id1, err := GetTerminalID()
	if err != nil {
		t.Fatalf("GetTerminalID: %v", err)
	}
	if len(id1) != 32 {
		t.Errorf("terminal id %q not 16 bytes hex", id1)
	}

	id2, err := GetTerminalID()
	if err != nil {
		t.Fatalf("GetTerminalID second call: %v", err)
	}
	if id1 != id2 {
		t.Errorf("terminal id not stable: %s vs %s", id1, id2)
	}

	creds, err := LoadAuth()
	if err != nil || creds == nil {
		t.Fatalf("LoadAuth: creds=%v err=%v", creds, err)
	}
	if creds.TerminalID != id1 {
		t.Errorf("persisted id %s != %s", creds.TerminalID, id1)
	}
}

func TestAuthRoundTrip(t *testing.T) {
	home := isolateHome(t)

	if err := SaveAuth(&AuthCredentials{APIKey: "k-123", TerminalID: "t-1"}); err != nil {
		t.Fatalf("SaveAuth: %v", err)
	}

	// Credentials file must not be world readable
	info, err := os.Stat(filepath.Join(home, ".config", "till", "auth.json"))
	if err != nil {
		t.Fatalf("stat auth.json: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("auth.json perms = %o, want 600", perm)
	}

	if got := GetAPIKey(); got != "k-123" {
		t.Errorf("api key = %s", got)
	}
	if !IsAuthenticated() {
		t.Error("should be authenticated")
	}

	if err := ClearAuth(); err != nil {
		t.Fatalf("ClearAuth: %v", err)
	}
	if IsAuthenticated() {
		t.Error("still authenticated after ClearAuth")
	}
	// Clearing twice is fine
	if err := ClearAuth(); err != nil {
		t.Errorf("second ClearAuth: %v", err)
	}
}

func TestDataDirResolution(t *testing.T) {
	home := isolateHome(t)

	dir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir: %v", err)
	}
	if dir != filepath.Join(home, ".local", "share", "till") {
		t.Errorf("default data dir = %s", dir)
	}

	if err := SaveConfig(&Config{DataDir: "/var/lib/till"}); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if dir, _ := GetDataDir(); dir != "/var/lib/till" {
		t.Errorf("config data dir = %s", dir)
	}

	t.Setenv("TILL_DATA_DIR", "/tmp/till-override")
	if dir, _ := GetDataDir(); dir != "/tmp/till-override" {
		t.Errorf("env data dir = %s", dir)
	}
}
