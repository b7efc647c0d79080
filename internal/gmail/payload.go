package gmail

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Bodies holds the decoded html and plain text of a message. Either may be
// empty.
type Bodies struct {
	HTML string
	Text string
}

func (b Bodies) Empty() bool { return b.HTML == "" && b.Text == "" }

var looksLikeHTML = regexp.MustCompile(`(?i)<html|</div>|</p>|<br\s*/?>`)

// DecodeBase64URL decodes Gmail body data. Padding and the standard
// alphabet are tolerated.
func DecodeBase64URL(data string) ([]byte, error) {
	data = strings.TrimRight(strings.TrimSpace(data), "=")
	data = strings.NewReplacer("+", "-", "/", "_").Replace(data)
	return base64.RawURLEncoding.DecodeString(data)
}

// ExtractBodies walks payload for text/html and text/plain parts. A payload
// without usable parts falls back to its own body, which is treated as html
// when it looks like markup.
func ExtractBodies(payload *MessagePart) Bodies {
	var out Bodies
	if payload == nil {
		return out
	}

	var html, text strings.Builder
	collectParts(payload.Parts, &html, &text)
	out.HTML, out.Text = html.String(), text.String()
	if !out.Empty() {
		return out
	}

	if s := decodePart(payload); s != "" {
		if looksLikeHTML.MatchString(s) {
			out.HTML = s
		} else {
			out.Text = s
		}
	}
	return out
}

func collectParts(parts []MessagePart, html, text *strings.Builder) {
	for i := range parts {
		p := &parts[i]
		mt := strings.ToLower(p.MimeType)
		if strings.HasPrefix(mt, "multipart/") {
			collectParts(p.Parts, html, text)
			continue
		}
		if p.Filename != "" {
			continue
		}
		s := decodePart(p)
		if s == "" {
			continue
		}
		switch mt {
		case "text/html":
			html.WriteString(s)
		case "text/plain":
			text.WriteString(s)
		}
	}
}

func decodePart(p *MessagePart) string {
	if p == nil || p.Body == nil || p.Body.Data == "" {
		return ""
	}
	b, err := DecodeBase64URL(p.Body.Data)
	if err != nil {
		return ""
	}
	return string(b)
}

// ExtractRaw parses an RFC 822 message (format=raw) and collects its inline
// text parts.
func ExtractRaw(raw []byte) (Bodies, error) {
	var out Bodies
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return out, err
	}
	defer r.Close()

	var html, text strings.Builder
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(mediaType, "text/html"):
			html.Write(body)
		case strings.HasPrefix(mediaType, "text/plain"), mediaType == "":
			text.Write(body)
		}
	}
	out.HTML, out.Text = html.String(), text.String()
	return out, nil
}

// ExtractStored extracts bodies from a cached JSON document, which may be a
// whole Message or just its payload part.
func ExtractStored(doc json.RawMessage) Bodies {
	if len(doc) == 0 {
		return Bodies{}
	}
	var m Message
	if err := json.Unmarshal(doc, &m); err == nil {
		if m.Payload != nil && m.Payload.MimeType != "" {
			return ExtractBodies(m.Payload)
		}
		if m.Raw != "" {
			if raw, err := DecodeBase64URL(m.Raw); err == nil {
				if b, err := ExtractRaw(raw); err == nil {
					return b
				}
			}
		}
	}
	var p MessagePart
	if err := json.Unmarshal(doc, &p); err != nil {
		return Bodies{}
	}
	return ExtractBodies(&p)
}
