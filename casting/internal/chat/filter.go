package chat

import (
	"strings"

	"github.com/hazyhaar/casting/casting/internal/record"
)

// captionTypes are media types whose caption is classifiable text.
var captionTypes = map[string]bool{
	"image":    true,
	"video":    true,
	"document": true,
	"gif":      true,
}

// Content returns the classifiable text of m, or "" when m must be dropped:
// authored by the ingesting account, a type other than text or captioned
// media, or blank.
func Content(m Message) string {
	if m.FromMe {
		return ""
	}
	var text string
	switch {
	case m.Type == "text":
		text = m.Text
	case captionTypes[m.Type]:
		text = m.Caption
	default:
		return ""
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}

// Filter keeps the classifiable messages of group and converts them to
// RawMessages, preserving order.
func Filter(msgs []Message, group, sourceName string) []record.RawMessage {
	out := make([]record.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		text := Content(m)
		if text == "" {
			continue
		}
		out = append(out, record.RawMessage{
			MessageID:       m.ID,
			Text:            text,
			SourceGroupID:   group,
			SourceName:      sourceName,
			OriginTimestamp: m.Timestamp,
		})
	}
	return out
}
