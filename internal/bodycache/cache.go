// Package bodycache serves full message bodies from the gmail_messages cache
// and fills it from the Gmail API on a miss.
package bodycache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"atsinbox/internal/gmail"
	"atsinbox/internal/model"
	"atsinbox/pkg/logger"
	"atsinbox/pkg/metrics"
)

// fetchTimeout bounds a shared upstream fetch; it runs detached from the
// request that started it.
const fetchTimeout = 20 * time.Second

// Store reads and writes cached messages. Lookups return (nil, nil) on a miss.
type Store interface {
	GetCached(ctx context.Context, id string) (*model.CachedMessage, error)
	LatestInThread(ctx context.Context, threadID string) (*model.CachedMessage, error)
	Upsert(ctx context.Context, m *model.CachedMessage) error
}

type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

type Fetcher interface {
	GetMessage(ctx context.Context, accessToken, id, format string) (*gmail.Message, error)
}

type Cache struct {
	store   Store
	tokens  TokenSource
	fetcher Fetcher
	logger  *zap.Logger
	group   singleflight.Group
}

func New(store Store, tokens TokenSource, fetcher Fetcher, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{store: store, tokens: tokens, fetcher: fetcher, logger: log}
}

// GetBody returns the html and text bodies of msg. Concurrent misses for the
// same message share one upstream fetch.
func (c *Cache) GetBody(ctx context.Context, msg *model.InboxMessage) (gmail.Bodies, error) {
	gmailID := strings.TrimSpace(msg.GmailMessageID)
	threadID := ""
	if msg.ThreadID != nil {
		threadID = strings.TrimSpace(*msg.ThreadID)
	}

	cached, result, err := c.lookup(ctx, gmailID, threadID)
	if err != nil {
		return gmail.Bodies{}, err
	}
	if cached != nil {
		if bodies := gmail.ExtractStored(cached.Payload); !bodies.Empty() {
			metrics.IncrementBodyCache(result)
			return bodies, nil
		}
	}
	metrics.IncrementBodyCache("miss")

	if gmailID == "" {
		return gmail.Bodies{}, nil
	}

	ch := c.group.DoChan(gmailID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return c.fetch(shared, gmailID)
	})
	select {
	case <-ctx.Done():
		return gmail.Bodies{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return gmail.Bodies{}, res.Err
		}
		return res.Val.(gmail.Bodies), nil
	}
}

func (c *Cache) lookup(ctx context.Context, gmailID, threadID string) (*model.CachedMessage, string, error) {
	if gmailID != "" {
		m, err := c.store.GetCached(ctx, gmailID)
		if err != nil {
			return nil, "", fmt.Errorf("load cached message: %w", err)
		}
		if m != nil {
			return m, "hit", nil
		}
	}
	if threadID != "" {
		m, err := c.store.LatestInThread(ctx, threadID)
		if err != nil {
			return nil, "", fmt.Errorf("load cached thread: %w", err)
		}
		if m != nil {
			return m, "thread_hit", nil
		}
	}
	return nil, "", nil
}

func (c *Cache) fetch(ctx context.Context, gmailID string) (gmail.Bodies, error) {
	token, err := c.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return gmail.Bodies{}, err
	}
	full, err := c.fetcher.GetMessage(ctx, token, gmailID, "full")
	if err != nil {
		return gmail.Bodies{}, err
	}

	bodies := gmail.ExtractBodies(full.Payload)

	entry, err := FromGmail(full)
	if err != nil {
		logger.WithTrace(ctx, c.logger).Warn("Failed to encode message payload for cache",
			zap.String("gmail_message_id", gmailID), zap.Error(err))
		return bodies, nil
	}
	if err := c.store.Upsert(ctx, entry); err != nil {
		logger.WithTrace(ctx, c.logger).Warn("Failed to cache message body",
			zap.String("gmail_message_id", gmailID), zap.Error(err))
	}
	return bodies, nil
}

// FromGmail builds a cache row from a full-format message. The row is keyed
// by the fetched message id.
func FromGmail(m *gmail.Message) (*model.CachedMessage, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, err
	}
	entry := &model.CachedMessage{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		ToEmail:   optional(m.Header("To")),
		FromEmail: optional(m.Header("From")),
		Subject:   optional(m.Header("Subject")),
		Snippet:   optional(m.Snippet),
		Payload:   payload,
	}
	if at, ok := m.ReceivedAt(); ok {
		entry.InternalDate = &at
	}
	return entry, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
