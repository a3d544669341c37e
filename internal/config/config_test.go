package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
telegram:
  token: file-token
  poll_timeout: 10s
logging:
  level: info
  console: true
standup:
  default_timezone: America/New_York
  task_timeout: 2m
messaging:
  rate_per_sec: 20
  retry_max: 3
  retry_base: 500ms
  retry_max_delay: 10s
storage:
  driver: sqlite
  path: ./standupbot.db
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Standup.DefaultTimezone != "America/New_York" {
		t.Fatalf("default tz = %q", cfg.Standup.DefaultTimezone)
	}
	if cfg.Messaging == nil || cfg.Messaging.RatePerSec != 20 {
		t.Fatalf("messaging = %+v", cfg.Messaging)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{name: "unknown yaml key", file: "c.yaml", body: "standup:\n  bogus: 1\n"},
		{name: "unknown json key", file: "c.json", body: `{"plugins":{}}`},
		{name: "trailing json", file: "c.json", body: `{} {}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewConfigManager(writeFile(t, tt.file, tt.body)).Parse(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOverlayAppliedOnParse(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetOverlay(Env{TelegramToken: "env-token", StorageDSN: "postgres://x", StorageDriver: "postgres"}.Overlay)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://x" || cfg.Storage.Path != "./standupbot.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadEnvWithoutDotenv(t *testing.T) {
	t.Setenv("STANDUP_TELEGRAM_TOKEN", "abc")
	t.Setenv("STANDUP_HTTP_ADDR", ":9000")
	env, err := LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	cfg := &Config{}
	env.Overlay(cfg)
	if cfg.Telegram.Token != "abc" || cfg.HTTP == nil || cfg.HTTP.Addr != ":9000" {
		t.Fatalf("overlay = %+v", cfg)
	}
	if cfg.Storage != nil {
		t.Fatalf("storage should stay nil, got %+v", cfg.Storage)
	}
}

func TestLoadEnvReadsDotenv(t *testing.T) {
	t.Setenv("STANDUP_STORAGE_DSN", "")
	os.Unsetenv("STANDUP_STORAGE_DSN")
	p := writeFile(t, ".env", "STANDUP_STORAGE_DSN=postgres://from-file\n")
	t.Cleanup(func() { os.Unsetenv("STANDUP_STORAGE_DSN") })
	env, err := LoadEnv(p)
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if env.StorageDSN != "postgres://from-file" {
		t.Fatalf("dsn = %q", env.StorageDSN)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Standup:   StandupConfig{DefaultTimezone: "Mars/Olympus", TaskTimeout: "soon"},
		Messaging: &MessagingConfig{RatePerSec: -1},
		Storage:   &StorageConfig{Driver: "postgres"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"standup.default_timezone", "standup.task_timeout", "messaging:", "storage.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
	if err := Validate(&Config{}); err != nil {
		t.Fatalf("empty config: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Logging: LoggingConfig{Level: "info"}, Messaging: &MessagingConfig{RatePerSec: 20}}

	live := *old
	live.Logging.Level = "debug"
	live.Messaging = &MessagingConfig{RatePerSec: 5}
	changed, restart, _ := SummarizeConfigChange(old, &live)
	if strings.Join(changed, ",") != "logging,messaging" || restart {
		t.Fatalf("changed=%v restart=%v", changed, restart)
	}

	moved := *old
	moved.Standup.DefaultTimezone = "UTC"
	changed, restart, _ = SummarizeConfigChange(old, &moved)
	if strings.Join(changed, ",") != "standup" || !restart {
		t.Fatalf("changed=%v restart=%v", changed, restart)
	}

	changed, _, _ = SummarizeConfigChange(old, old)
	if len(changed) != 0 {
		t.Fatalf("unexpected change %v", changed)
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatal("unchanged file should not publish")
	}

	bad := strings.Replace(sampleYAML, "America/New_York", "Nowhere/Land", 1)
	if err := os.WriteFile(p, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(ctx) {
		t.Fatal("invalid config should not publish")
	}

	good := strings.Replace(sampleYAML, "level: info", "level: debug", 1)
	if err := os.WriteFile(p, []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.reload(ctx) {
		t.Fatal("expected publish")
	}
	got := <-sub
	if got.Logging.Level != "debug" || m.Get() != got {
		t.Fatalf("published %+v", got.Logging)
	}
}
