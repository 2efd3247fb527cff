// Package chat reads message history from chat groups through a
// Whapi-style HTTP API and filters it down to classifiable text.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hazyhaar/casting/connectivity"
)

// Message is one message envelope as returned by the history API.
type Message struct {
	ID        string
	Type      string // text, image, video, document, gif, sticker, ...
	FromMe    bool
	Timestamp int64 // unix seconds
	ChatID    string
	Text      string // body of text messages
	Caption   string // caption of media messages
}

// Query selects messages of one group.
type Query struct {
	Group  string
	Since  int64 // unix seconds; only messages with Timestamp > Since
	Offset int
	Limit  int
}

// History lists messages of a group in ascending time order.
type History interface {
	ListMessages(ctx context.Context, q Query) ([]Message, error)
}

// Config configures the chat history client.
type Config struct {
	Endpoint string // e.g. https://gate.whapi.cloud
	Token    string
	Timeout  time.Duration
}

// Client is the HTTP History.
type Client struct {
	http *connectivity.Client
}

// NewClient creates a history client. breaker may be nil.
func NewClient(cfg Config, breaker *connectivity.CircuitBreaker, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		http: connectivity.NewClient("chat", cfg.Endpoint,
			connectivity.WithBearerToken(cfg.Token),
			connectivity.WithCallTimeout(cfg.Timeout),
			connectivity.WithBreaker(breaker),
			connectivity.WithClientLogger(logger),
		),
	}
}

type envelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	FromMe    bool   `json:"from_me"`
	Timestamp int64  `json:"timestamp"`
	ChatID    string `json:"chat_id"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *media `json:"image"`
	Video    *media `json:"video"`
	Document *media `json:"document"`
	Gif      *media `json:"gif"`
}

type media struct {
	Caption string `json:"caption"`
}

type listResponse struct {
	Messages []envelope `json:"messages"`
	Count    int        `json:"count"`
	Total    int        `json:"total"`
}

// ListMessages fetches one page of messages newer than q.Since.
func (c *Client) ListMessages(ctx context.Context, q Query) ([]Message, error) {
	params := url.Values{}
	params.Set("count", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("sort", "asc")
	if q.Since > 0 {
		// time_from is inclusive upstream; the poller drops ts == Since.
		params.Set("time_from", strconv.FormatInt(q.Since, 10))
	}

	var resp listResponse
	path := "/messages/list/" + url.PathEscape(q.Group)
	if err := c.http.DoJSON(ctx, http.MethodGet, path, params, nil, &resp); err != nil {
		return nil, fmt.Errorf("chat: list %s: %w", q.Group, err)
	}

	out := make([]Message, 0, len(resp.Messages))
	for _, e := range resp.Messages {
		m := Message{ID: e.ID, Type: e.Type, FromMe: e.FromMe, Timestamp: e.Timestamp, ChatID: e.ChatID}
		if e.Text != nil {
			m.Text = e.Text.Body
		}
		for _, md := range []*media{e.Image, e.Video, e.Document, e.Gif} {
			if md != nil && md.Caption != "" {
				m.Caption = md.Caption
				break
			}
		}
		out = append(out, m)
	}
	return out, nil
}
