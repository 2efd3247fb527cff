package casting

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/horosafe"
)

const (
	maxNameLen = 256
	maxURLLen  = 4096
)

// chatHandle matches a group id: "<digits>@g.us" or legacy
// "<creator>-<timestamp>@g.us".
var chatHandle = regexp.MustCompile(`^\d{6,32}(-\d{6,16})?@g\.us$`)

// SourceInput is the operator input for AddSource.
type SourceInput struct {
	SourceType  string `json:"source_type"`
	Identifier  string `json:"source_identifier"`
	DisplayName string `json:"display_name"`
	Inactive    bool   `json:"inactive,omitempty"`
}

// validateSourceInput checks the type/identifier pairing. It returns the
// identifier to store, trimmed but otherwise as submitted, and the key its
// uniqueness is checked on.
func (s *Service) validateSourceInput(in SourceInput) (ident, key string, err error) {
	if len(in.DisplayName) > maxNameLen {
		return "", "", fmt.Errorf("%w: display_name exceeds %d characters", ErrInvalidInput, maxNameLen)
	}
	ident = strings.TrimSpace(in.Identifier)
	if ident == "" {
		return "", "", fmt.Errorf("%w: source_identifier is required", ErrInvalidInput)
	}

	switch in.SourceType {
	case record.SourceWeb:
		if len(ident) > maxURLLen {
			return "", "", fmt.Errorf("%w: url exceeds %d characters", ErrInvalidInput, maxURLLen)
		}
		norm, err := NormalizeSourceURL(ident)
		if err != nil {
			return "", "", err
		}
		if err := s.urlValidator(ident); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return ident, norm, nil
	case record.SourceChat:
		if !chatHandle.MatchString(ident) {
			return "", "", fmt.Errorf("%w: %q is not a chat group handle", ErrInvalidInput, ident)
		}
		return ident, ident, nil
	default:
		return "", "", fmt.Errorf("%w: unknown source_type %q", ErrInvalidInput, in.SourceType)
	}
}

// NormalizeSourceURL returns the duplicate-detection key of a web source
// URL: lowercase scheme and host, no fragment, no trailing slash, sorted
// query. The key is never fetched. Only absolute http(s) URLs are accepted.
func NormalizeSourceURL(raw string) (string, error) {
	u, err := horosafe.ParseHTTPURL(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	return u.String(), nil
}
