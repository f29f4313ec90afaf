package runtime

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
	"google.golang.org/api/gmail/v1"

	gc "github.com/joshsymonds/inboxrules/internal/gmail"
)

// bodyLimit caps the decoded body kept for matching, in runes.
const bodyLimit = 1000

// messageFromAPI converts a format=full Gmail message. The date is Gmail's
// internal receive time, falling back to the Date header.
func messageFromAPI(m *gmail.Message, labelNames map[gc.LabelID]string) gc.Message {
	out := gc.Message{
		ID:       gc.MessageID(m.Id),
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
	}
	for _, id := range m.LabelIds {
		lid := gc.LabelID(id)
		out.LabelIDs = append(out.LabelIDs, lid)
		if name, ok := labelNames[lid]; ok {
			out.Labels = append(out.Labels, name)
		} else {
			out.Labels = append(out.Labels, id)
		}
	}

	var h mail.Header
	if m.Payload != nil {
		for _, hd := range m.Payload.Headers {
			h.Add(hd.Name, hd.Value)
		}
	}
	out.Subject = headerText(h, "Subject")
	out.From = headerText(h, "From")
	out.To = headerText(h, "To")

	if m.InternalDate > 0 {
		out.Date = time.UnixMilli(m.InternalDate).UTC()
	} else if d, err := h.Date(); err == nil {
		out.Date = d.UTC()
	}

	if m.Payload != nil {
		text, html := extractBodies(m.Payload)
		if text == "" && html != "" {
			text = html2text.HTML2Text(html)
		}
		out.Body = truncateRunes(strings.TrimSpace(text), bodyLimit)
	}
	return out
}

// headerText returns the decoded header value, or the raw value when it
// cannot be decoded.
func headerText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return v
}

// extractBodies walks the MIME tree depth-first and returns the first
// text/plain and text/html bodies found.
func extractBodies(part *gmail.MessagePart) (text, html string) {
	if part.Body != nil && part.Body.Data != "" {
		switch strings.ToLower(part.MimeType) {
		case "text/plain":
			text = decodeBase64URL(part.Body.Data)
		case "text/html":
			html = decodeBase64URL(part.Body.Data)
		}
	}
	for _, child := range part.Parts {
		if text != "" {
			break
		}
		ct, ch := extractBodies(child)
		if text == "" {
			text = ct
		}
		if html == "" {
			html = ch
		}
	}
	return text, html
}

func decodeBase64URL(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
