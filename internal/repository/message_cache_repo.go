package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atsinbox/internal/model"
)

const cacheColumns = `id, thread_id, to_email, from_email, subject, snippet, internal_date, payload, created_at`

// MessageCacheRepository stores full Gmail payloads in gmail_messages.
type MessageCacheRepository struct {
	db *pgxpool.Pool
}

func NewMessageCacheRepository(db *pgxpool.Pool) *MessageCacheRepository {
	return &MessageCacheRepository{db: db}
}

func (r *MessageCacheRepository) GetCached(ctx context.Context, id string) (*model.CachedMessage, error) {
	defer observe("get", "gmail_messages", time.Now())
	return scanCached(r.db.QueryRow(ctx, "SELECT "+cacheColumns+" FROM gmail_messages WHERE id = $1", id))
}

// LatestInThread returns the newest cached message of a thread.
func (r *MessageCacheRepository) LatestInThread(ctx context.Context, threadID string) (*model.CachedMessage, error) {
	defer observe("latest_in_thread", "gmail_messages", time.Now())
	return scanCached(r.db.QueryRow(ctx, `
        SELECT `+cacheColumns+`
        FROM gmail_messages
        WHERE thread_id = $1
        ORDER BY internal_date DESC NULLS LAST
        LIMIT 1
    `, threadID))
}

func (r *MessageCacheRepository) Upsert(ctx context.Context, m *model.CachedMessage) error {
	defer observe("upsert", "gmail_messages", time.Now())

	threadID := m.ThreadID
	if threadID == "" {
		threadID = "unknown"
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO gmail_messages (id, thread_id, to_email, from_email, subject, snippet, internal_date, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
        ON CONFLICT (id) DO UPDATE SET
            thread_id     = EXCLUDED.thread_id,
            to_email      = EXCLUDED.to_email,
            from_email    = EXCLUDED.from_email,
            subject       = EXCLUDED.subject,
            snippet       = EXCLUDED.snippet,
            internal_date = EXCLUDED.internal_date,
            payload       = EXCLUDED.payload
    `, m.ID, threadID, m.ToEmail, m.FromEmail, m.Subject, m.Snippet, m.InternalDate, []byte(m.Payload))
	if err != nil {
		return fmt.Errorf("upsert cached message %s: %w", m.ID, err)
	}
	return nil
}

func scanCached(row pgx.Row) (*model.CachedMessage, error) {
	var (
		m       model.CachedMessage
		payload []byte
	)
	err := row.Scan(&m.ID, &m.ThreadID, &m.ToEmail, &m.FromEmail, &m.Subject, &m.Snippet, &m.InternalDate, &payload, &m.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Payload = payload
	return &m, nil
}
