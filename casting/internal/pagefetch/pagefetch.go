// Package pagefetch retrieves the main content of a web page as markdown,
// either through a remote scrape service or by fetching and cleaning the
// HTML directly.
package pagefetch

import (
	"context"
	"fmt"
)

// Page is the fetched main content of a URL.
type Page struct {
	URL        string
	Title      string
	Markdown   string
	StatusCode int
}

// Fetcher retrieves the main content of a page.
type Fetcher interface {
	FetchPage(ctx context.Context, url string) (*Page, error)
}

// FetchError is a failed page fetch. StatusCode is the upstream HTTP status,
// 0 when the request never got a response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pagefetch: %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("pagefetch: %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
