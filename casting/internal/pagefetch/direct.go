package pagefetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/casting/horosafe"
)

// DirectConfig configures the DirectFetcher.
type DirectConfig struct {
	Timeout   time.Duration // default 30s
	MaxBytes  int64         // default 10 MiB
	UserAgent string
	// URLValidator runs before the request and on every redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
}

func (c *DirectConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "casting-ingest/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
}

// mainSelectors are tried in order; the first non-empty match is the
// page's main content.
var mainSelectors = []string{"main", "article", "[role=main]", "#content", ".content", "body"}

// noiseSelectors are removed before conversion.
const noiseSelectors = "script, style, noscript, nav, header, footer, aside, form, iframe, svg"

// DirectFetcher fetches HTML itself and converts the main content to
// markdown: goquery selection, bluemonday sanitizing, html-to-markdown.
type DirectFetcher struct {
	cfg      DirectConfig
	client   *http.Client
	policy   *bluemonday.Policy
	markdown *converter.Converter
}

// NewDirectFetcher creates a DirectFetcher with SSRF checks on redirects.
func NewDirectFetcher(cfg DirectConfig) *DirectFetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &DirectFetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		policy: bluemonday.UGCPolicy(),
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// FetchPage GETs url and returns its main content as markdown.
func (f *DirectFetcher) FetchPage(ctx context.Context, url string) (*Page, error) {
	if err := f.cfg.URLValidator(url); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	body, err := horosafe.LimitedReadAll(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	title, md, err := f.convert(body, url)
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	return &Page{URL: url, Title: title, Markdown: md, StatusCode: resp.StatusCode}, nil
}

func (f *DirectFetcher) convert(body []byte, pageURL string) (title, md string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noiseSelectors).Remove()

	var main *goquery.Selection
	for _, sel := range mainSelectors {
		s := doc.Find(sel).First()
		if s.Length() > 0 && strings.TrimSpace(s.Text()) != "" {
			main = s
			break
		}
	}
	if main == nil {
		return title, "", nil
	}

	raw, err := goquery.OuterHtml(main)
	if err != nil {
		return "", "", fmt.Errorf("render main content: %w", err)
	}
	clean := f.policy.Sanitize(raw)
	md, err = f.markdown.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return "", "", fmt.Errorf("html to markdown: %w", err)
	}
	return title, strings.TrimSpace(md), nil
}
