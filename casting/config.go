package casting

import "time"

// Page fetch modes.
const (
	PageFetchService = "service"
	PageFetchDirect  = "direct"
)

// Config configures the ingestion service.
type Config struct {
	Extract   ExtractConfig   `yaml:"extract"`
	PageFetch PageFetchConfig `yaml:"page_fetch"`
	Chat      ChatConfig      `yaml:"chat"`
	Run       RunConfig       `yaml:"run"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
}

// ExtractConfig points at the text extraction service (OpenAI-compatible).
type ExtractConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxInputChars int           `yaml:"max_input_chars"`
}

// PageFetchConfig selects how web pages are fetched. Mode "service" uses a
// remote scrape API and requires APIKey; "direct" fetches HTML itself.
type PageFetchConfig struct {
	Mode      string        `yaml:"mode"`
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
}

// ChatConfig points at the chat history API. An empty Token skips every
// chat source.
type ChatConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
	MaxPages int           `yaml:"max_pages"`
	// Cooldown is the minimum delay between two group fetches in one lane.
	Cooldown time.Duration `yaml:"cooldown"`
	// Lanes is the number of groups fetched in parallel.
	Lanes int `yaml:"lanes"`
}

// RunConfig bounds one orchestration run.
type RunConfig struct {
	// WebConcurrency is the number of web sources processed in parallel.
	WebConcurrency int `yaml:"web_concurrency"`
}

// ClassifyConfig configures the chat classification queue.
type ClassifyConfig struct {
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// Backoff is the base redelivery delay of a failed job. Default:
	// Visibility.
	Backoff     time.Duration `yaml:"backoff"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ScheduleConfig configures the runs started by Service.Start.
type ScheduleConfig struct {
	// Interval between run starts. Default: 1 hour.
	Interval time.Duration `yaml:"interval"`
	// SkipInitial waits one Interval before the first run.
	SkipInitial bool `yaml:"skip_initial"`
}

// BreakerConfig configures the per-service circuit breakers.
type BreakerConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

func (c *Config) defaults() {
	if c.Extract.Endpoint == "" {
		c.Extract.Endpoint = "https://api.openai.com/v1"
	}
	if c.Extract.Model == "" {
		c.Extract.Model = "gpt-4o-mini"
	}
	if c.Extract.Timeout <= 0 {
		c.Extract.Timeout = 60 * time.Second
	}
	if c.PageFetch.Mode == "" {
		c.PageFetch.Mode = PageFetchService
	}
	if c.PageFetch.Endpoint == "" {
		c.PageFetch.Endpoint = "https://api.firecrawl.dev"
	}
	if c.PageFetch.Timeout <= 0 {
		c.PageFetch.Timeout = 60 * time.Second
	}
	if c.Chat.Endpoint == "" {
		c.Chat.Endpoint = "https://gate.whapi.cloud"
	}
	if c.Chat.Timeout <= 0 {
		c.Chat.Timeout = 30 * time.Second
	}
	if c.Chat.PageSize <= 0 {
		c.Chat.PageSize = 100
	}
	if c.Chat.MaxPages <= 0 {
		c.Chat.MaxPages = 5
	}
	if c.Chat.Cooldown <= 0 {
		c.Chat.Cooldown = 2 * time.Second
	}
	if c.Chat.Lanes <= 0 {
		c.Chat.Lanes = 2
	}
	if c.Run.WebConcurrency <= 0 {
		c.Run.WebConcurrency = 4
	}
	if c.Classify.Visibility <= 0 {
		c.Classify.Visibility = 2 * time.Minute
	}
	if c.Classify.PollInterval <= 0 {
		c.Classify.PollInterval = 5 * time.Second
	}
	if c.Classify.Backoff <= 0 {
		c.Classify.Backoff = c.Classify.Visibility
	}
	if c.Classify.MaxAttempts <= 0 {
		c.Classify.MaxAttempts = 5
	}
	if c.Schedule.Interval <= 0 {
		c.Schedule.Interval = time.Hour
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.ResetTimeout <= 0 {
		c.Breaker.ResetTimeout = 5 * time.Minute
	}
}

// DefaultConfig returns a Config with every default applied and no
// credentials.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}
