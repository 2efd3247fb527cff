// Package extract turns unstructured text into casting-call records through
// an external text-understanding service speaking the OpenAI chat
// completions protocol.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/connectivity"
)

// Extractor extracts zero or more candidates from text. Zero candidates
// with a nil error means the text holds no casting call.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]record.Candidate, error)
}

// Instruction is the system prompt sent with every extraction request.
const Instruction = `You extract casting calls (auditions, roles, model or extra calls) from text.
Return ONLY a JSON array. Each element is an object with these string keys:
title, description, organization, location, compensation, requirements,
applicationDeadline, contactInfo.
Use "" for any field not stated in the text. Do not invent values.
If the text contains no casting call, return [].`

// Config configures the extraction client.
type Config struct {
	Endpoint      string // base URL, e.g. https://api.openai.com/v1
	APIKey        string
	Model         string
	Timeout       time.Duration // per call
	MaxInputChars int           // longer text is truncated
	Temperature   float64
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = 24_000
	}
}

// Client is the HTTP Extractor.
type Client struct {
	cfg    Config
	http   *connectivity.Client
	logger *slog.Logger
}

// New creates an extraction client. breaker may be nil.
func New(cfg Config, breaker *connectivity.CircuitBreaker, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		http: connectivity.NewClient("extract", cfg.Endpoint,
			connectivity.WithBearerToken(cfg.APIKey),
			connectivity.WithCallTimeout(cfg.Timeout),
			connectivity.WithBreaker(breaker),
			connectivity.WithClientLogger(logger),
		),
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Extract sends text to the service and coerces the answer.
func (c *Client) Extract(ctx context.Context, text string) ([]record.Candidate, error) {
	if len(text) > c.cfg.MaxInputChars {
		text = truncate(text, c.cfg.MaxInputChars)
	}
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: Instruction},
			{Role: "user", Content: text},
		},
		Temperature: c.cfg.Temperature,
	}

	var resp chatResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, "/chat/completions", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformed)
	}

	items, err := parseItems(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	recs := CoerceAll(items)
	c.logger.Debug("extract: done", "items", len(items), "records", len(recs),
		"finish_reason", resp.Choices[0].FinishReason)
	return recs, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
