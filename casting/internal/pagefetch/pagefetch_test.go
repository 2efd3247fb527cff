package pagefetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/casting/horosafe"
)

const castingHTML = `<!doctype html>
<html><head><title>Open Calls</title><script>var x = 1;</script></head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<main>
  <h1>Senior Actor</h1>
  <p>Lead role in a <strong>feature film</strong>. Contact <a href="/apply">apply</a>.</p>
  <p onclick="steal()">Paid.</p>
</main>
<footer>Copyright</footer>
</body></html>`

func allowAll(string) error { return nil }

func TestDirectFetcher_MainContent(t *testing.T) {
	// WHAT: Main content is converted to markdown without nav, footer or scripts.
	// WHY: Boilerplate sent to extraction yields noise records.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(castingHTML))
	}))
	defer srv.Close()

	f := NewDirectFetcher(DirectConfig{URLValidator: allowAll})
	page, err := f.FetchPage(context.Background(), srv.URL+"/calls")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if page.Title != "Open Calls" {
		t.Errorf("title = %q", page.Title)
	}
	for _, want := range []string{"# Senior Actor", "**feature film**", "Paid."} {
		if !strings.Contains(page.Markdown, want) {
			t.Errorf("markdown missing %q:\n%s", want, page.Markdown)
		}
	}
	for _, unwanted := range []string{"Home", "Copyright", "var x", "steal"} {
		if strings.Contains(page.Markdown, unwanted) {
			t.Errorf("markdown contains %q:\n%s", unwanted, page.Markdown)
		}
	}
}

func TestDirectFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewDirectFetcher(DirectConfig{URLValidator: allowAll})
	_, err := f.FetchPage(context.Background(), srv.URL)

	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusInternalServerError {
		t.Fatalf("err = %v, want FetchError 500", err)
	}
}

func TestDirectFetcher_SSRFBlocked(t *testing.T) {
	// WHAT: The default validator refuses loopback targets.
	// WHY: Source URLs are operator input.
	f := NewDirectFetcher(DirectConfig{})
	_, err := f.FetchPage(context.Background(), "http://127.0.0.1:1/")
	if !errors.Is(err, horosafe.ErrSSRF) {
		t.Fatalf("err = %v, want ErrSSRF", err)
	}
}

func TestServiceFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/scrape" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req scrapeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.URL != "https://agency.example/calls" || !req.OnlyMainContent || len(req.Formats) != 1 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"success":true,"data":{"markdown":"# Senior Actor","metadata":{"title":"Calls","statusCode":200}}}`))
	}))
	defer srv.Close()

	f := NewServiceFetcher(ServiceConfig{Endpoint: srv.URL, APIKey: "k"}, nil, nil)
	page, err := f.FetchPage(context.Background(), "https://agency.example/calls")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if page.Markdown != "# Senior Actor" || page.Title != "Calls" {
		t.Fatalf("page = %+v", page)
	}
}

func TestServiceFetcher_Errors(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantCode int
	}{
		{"service 500", http.StatusInternalServerError, ``, 500},
		{"target 404", http.StatusOK, `{"success":true,"data":{"markdown":"","metadata":{"statusCode":404}}}`, 404},
		{"unsuccessful", http.StatusOK, `{"success":false,"error":"blocked"}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			f := NewServiceFetcher(ServiceConfig{Endpoint: srv.URL}, nil, nil)
			_, err := f.FetchPage(context.Background(), "https://agency.example/")
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want FetchError", err)
			}
			if fe.StatusCode != tc.wantCode {
				t.Fatalf("status = %d, want %d", fe.StatusCode, tc.wantCode)
			}
		})
	}
}
