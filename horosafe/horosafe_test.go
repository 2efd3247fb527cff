package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://93.184.216.34/castings", false},
		{"ftp://evil.com/data", true},
		{"javascript:alert(1)", true},
		{"/relative/path", true},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/internal", true},
		{"http://192.168.1.1/api", true},
		{"http://[::1]/api", true},
		{"http://172.16.0.1/secret", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestParseHTTPURL(t *testing.T) {
	if _, err := ParseHTTPURL("https://example.com/jobs"); err != nil {
		t.Fatalf("valid URL rejected: %v", err)
	}
	if _, err := ParseHTTPURL("https://"); err == nil {
		t.Fatal("URL without host accepted")
	}
	if _, err := ParseHTTPURL("mailto:a@b.c"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("mailto: err = %v, want ErrUnsafeScheme", err)
	}
}

func TestLimitedReadAll(t *testing.T) {
	got, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(got) != "hello" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
}
