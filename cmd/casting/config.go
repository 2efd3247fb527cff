package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/casting/casting"
)

// fileConfig is the YAML file layout: the service config plus the serve
// command's own settings.
type fileConfig struct {
	casting.Config `yaml:",inline"`

	Listen           string          `yaml:"listen"`
	MetricsRetention time.Duration   `yaml:"metrics_retention"`
	RateLimit        rateLimitConfig `yaml:"rate_limit"`
}

type rateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func (c *fileConfig) defaults() {
	if c.Listen == "" {
		c.Listen = ":8086"
	}
	if c.MetricsRetention <= 0 {
		c.MetricsRetention = 30 * 24 * time.Hour
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
}

// loadConfig reads path (optional) and applies environment overrides.
// Credentials are normally supplied through the environment only.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}

func (c *fileConfig) applyEnv() error {
	c.Extract.Endpoint = env("CASTING_EXTRACT_ENDPOINT", c.Extract.Endpoint)
	c.Extract.APIKey = env("CASTING_EXTRACT_API_KEY", c.Extract.APIKey)
	c.Extract.Model = env("CASTING_EXTRACT_MODEL", c.Extract.Model)
	c.PageFetch.Mode = env("CASTING_PAGE_FETCH_MODE", c.PageFetch.Mode)
	c.PageFetch.Endpoint = env("CASTING_SCRAPE_ENDPOINT", c.PageFetch.Endpoint)
	c.PageFetch.APIKey = env("CASTING_SCRAPE_API_KEY", c.PageFetch.APIKey)
	c.Chat.Endpoint = env("CASTING_CHAT_ENDPOINT", c.Chat.Endpoint)
	c.Chat.Token = env("CASTING_CHAT_TOKEN", c.Chat.Token)
	c.Listen = env("CASTING_LISTEN", c.Listen)

	if v := os.Getenv("CASTING_SCHEDULE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CASTING_SCHEDULE_INTERVAL: %w", err)
		}
		c.Schedule.Interval = d
	}
	if v := os.Getenv("CASTING_WEB_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CASTING_WEB_CONCURRENCY: %w", err)
		}
		c.Run.WebConcurrency = n
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
