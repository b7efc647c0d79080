package gmail

import (
	"strconv"
	"strings"
	"time"
)

// Message mirrors users.messages resources (format=full or raw).
type Message struct {
	ID           string       `json:"id"`
	ThreadID     string       `json:"threadId"`
	LabelIDs     []string     `json:"labelIds,omitempty"`
	Snippet      string       `json:"snippet,omitempty"`
	InternalDate string       `json:"internalDate,omitempty"`
	Payload      *MessagePart `json:"payload,omitempty"`
	Raw          string       `json:"raw,omitempty"`
}

type MessagePart struct {
	PartID   string           `json:"partId,omitempty"`
	MimeType string           `json:"mimeType,omitempty"`
	Filename string           `json:"filename,omitempty"`
	Headers  []Header         `json:"headers,omitempty"`
	Body     *MessagePartBody `json:"body,omitempty"`
	Parts    []MessagePart    `json:"parts,omitempty"`
}

type MessagePartBody struct {
	AttachmentID string `json:"attachmentId,omitempty"`
	Size         int    `json:"size,omitempty"`
	Data         string `json:"data,omitempty"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MessageRef is an entry of a messages.list page.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type ListResponse struct {
	Messages           []MessageRef `json:"messages"`
	NextPageToken      string       `json:"nextPageToken"`
	ResultSizeEstimate int          `json:"resultSizeEstimate"`
}

type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Header returns the first header named name (case-insensitive), or "".
func (m *Message) Header(name string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ReceivedAt converts InternalDate (epoch milliseconds) to a time.
func (m *Message) ReceivedAt() (time.Time, bool) {
	if m == nil || m.InternalDate == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m.InternalDate, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
