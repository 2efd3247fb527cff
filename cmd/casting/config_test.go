package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/casting/casting"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "casting.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_File(t *testing.T) {
	// WHAT: YAML fields reach the embedded service config, durations included.
	// WHY: The inline embedding must not hide nested sections.
	path := writeFile(t, `
listen: ":9000"
extract:
  model: local-model
  timeout: 45s
page_fetch:
  mode: direct
chat:
  cooldown: 3s
  lanes: 4
schedule:
  interval: 30m
rate_limit:
  rps: 2
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Extract.Model != "local-model" || cfg.Extract.Timeout != 45*time.Second {
		t.Errorf("extract = %+v", cfg.Extract)
	}
	if cfg.PageFetch.Mode != casting.PageFetchDirect {
		t.Errorf("mode = %q", cfg.PageFetch.Mode)
	}
	if cfg.Chat.Cooldown != 3*time.Second || cfg.Chat.Lanes != 4 {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if cfg.Schedule.Interval != 30*time.Minute {
		t.Errorf("interval = %v", cfg.Schedule.Interval)
	}
	if cfg.RateLimit.RPS != 2 || cfg.RateLimit.Burst != 20 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	// WHAT: Environment variables win over the file.
	// WHY: Credentials are injected by the deployment, never committed.
	path := writeFile(t, "extract:\n  api_key: from-file\n")
	t.Setenv("CASTING_EXTRACT_API_KEY", "from-env")
	t.Setenv("CASTING_SCRAPE_API_KEY", "scrape")
	t.Setenv("CASTING_CHAT_TOKEN", "chat")
	t.Setenv("CASTING_SCHEDULE_INTERVAL", "15m")
	t.Setenv("CASTING_WEB_CONCURRENCY", "8")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Extract.APIKey != "from-env" || cfg.PageFetch.APIKey != "scrape" || cfg.Chat.Token != "chat" {
		t.Errorf("credentials = %q %q %q", cfg.Extract.APIKey, cfg.PageFetch.APIKey, cfg.Chat.Token)
	}
	if cfg.Schedule.Interval != 15*time.Minute || cfg.Run.WebConcurrency != 8 {
		t.Errorf("overrides = %v %d", cfg.Schedule.Interval, cfg.Run.WebConcurrency)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":8086" || cfg.MetricsRetention != 30*24*time.Hour {
		t.Errorf("defaults = %q %v", cfg.Listen, cfg.MetricsRetention)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
	if _, err := loadConfig(writeFile(t, "chat: [unclosed")); err == nil {
		t.Error("bad yaml: expected error")
	}
	t.Setenv("CASTING_SCHEDULE_INTERVAL", "soon")
	if _, err := loadConfig(""); err == nil {
		t.Error("bad duration: expected error")
	}
}
