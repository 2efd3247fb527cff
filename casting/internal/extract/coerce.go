package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/casting/casting/internal/record"
)

// fieldKeys lists the accepted keys for each record field, in priority
// order. The extraction service is not consistent about casing.
var fieldKeys = map[string][]string{
	"title":               {"title"},
	"description":         {"description"},
	"organization":        {"organization", "organisation"},
	"location":            {"location"},
	"compensation":        {"compensation"},
	"requirements":        {"requirements"},
	"applicationDeadline": {"applicationDeadline", "application_deadline"},
	"contactInfo":         {"contactInfo", "contact_info"},
}

// Coerce converts one raw extracted item into a Candidate. Absent or null
// fields become "". Numbers and booleans are formatted, string lists are
// joined with ", ". Strings are kept byte for byte. ok is false when the
// item has neither a title nor a description.
func Coerce(raw map[string]any) (c record.Candidate, ok bool) {
	c = record.Candidate{
		Title:               field(raw, "title"),
		Description:         field(raw, "description"),
		Organization:        field(raw, "organization"),
		Location:            field(raw, "location"),
		Compensation:        field(raw, "compensation"),
		Requirements:        field(raw, "requirements"),
		ApplicationDeadline: field(raw, "applicationDeadline"),
		ContactInfo:         field(raw, "contactInfo"),
	}
	if strings.TrimSpace(c.Title) == "" && strings.TrimSpace(c.Description) == "" {
		return record.Candidate{}, false
	}
	return c, true
}

// CoerceAll coerces items and drops the unusable ones.
func CoerceAll(items []map[string]any) []record.Candidate {
	out := make([]record.Candidate, 0, len(items))
	for _, it := range items {
		if c, ok := Coerce(it); ok {
			out = append(out, c)
		}
	}
	return out
}

func field(raw map[string]any, name string) string {
	for _, k := range fieldKeys[name] {
		if v, ok := raw[k]; ok && v != nil {
			return stringify(v)
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if e == nil {
				continue
			}
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}
