package pagefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/casting/connectivity"
)

// ServiceConfig configures the remote scrape service client.
type ServiceConfig struct {
	Endpoint string // e.g. https://api.firecrawl.dev
	APIKey   string
	Timeout  time.Duration
}

// ServiceFetcher fetches pages through a remote scrape API
// (POST /v1/scrape, markdown format, main content only).
type ServiceFetcher struct {
	http *connectivity.Client
}

// NewServiceFetcher creates a ServiceFetcher. breaker may be nil.
func NewServiceFetcher(cfg ServiceConfig, breaker *connectivity.CircuitBreaker, logger *slog.Logger) *ServiceFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ServiceFetcher{
		http: connectivity.NewClient("scrape", cfg.Endpoint,
			connectivity.WithBearerToken(cfg.APIKey),
			connectivity.WithCallTimeout(cfg.Timeout),
			connectivity.WithBreaker(breaker),
			connectivity.WithClientLogger(logger),
		),
	}
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title      string `json:"title"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// FetchPage scrapes url. A non-2xx answer from the service, or a page the
// service reports as failed, is a *FetchError.
func (f *ServiceFetcher) FetchPage(ctx context.Context, url string) (*Page, error) {
	req := scrapeRequest{URL: url, Formats: []string{"markdown"}, OnlyMainContent: true}
	var resp scrapeResponse
	if err := f.http.DoJSON(ctx, http.MethodPost, "/v1/scrape", nil, req, &resp); err != nil {
		fe := &FetchError{URL: url, Err: err}
		var se *connectivity.StatusError
		if errors.As(err, &se) {
			fe.StatusCode = se.StatusCode
		}
		return nil, fe
	}
	if !resp.Success {
		return nil, &FetchError{URL: url, StatusCode: resp.Data.Metadata.StatusCode,
			Err: fmt.Errorf("scrape failed: %s", resp.Error)}
	}
	if code := resp.Data.Metadata.StatusCode; code >= 400 {
		return nil, &FetchError{URL: url, StatusCode: code, Err: fmt.Errorf("target returned %d", code)}
	}
	return &Page{
		URL:        url,
		Title:      resp.Data.Metadata.Title,
		Markdown:   resp.Data.Markdown,
		StatusCode: resp.Data.Metadata.StatusCode,
	}, nil
}
