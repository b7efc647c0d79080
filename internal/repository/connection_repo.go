package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"atsinbox/internal/model"
	"atsinbox/internal/token"
)

type ConnectionRepository struct {
	db *pgxpool.Pool
}

func NewConnectionRepository(db *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

func (r *ConnectionRepository) GetConnection(ctx context.Context, id string) (*model.MailboxConnection, error) {
	defer observe("get", "gmail_connections", time.Now())

	var (
		c     model.MailboxConnection
		email *string
	)
	err := r.db.QueryRow(ctx, `
        SELECT id, access_token, refresh_token, expires_at, email, last_sync_at
        FROM gmail_connections
        WHERE id = $1
    `, id).Scan(&c.ID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &email, &c.LastSyncAt)
	if isNoRows(err) {
		return nil, token.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load connection %s: %w", id, err)
	}
	c.Email = deref(email)
	return &c, nil
}

// UpdateToken overwrites token and expiry in one statement.
func (r *ConnectionRepository) UpdateToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	defer observe("update_token", "gmail_connections", time.Now())

	tag, err := r.db.Exec(ctx, `
        UPDATE gmail_connections
        SET access_token = $2, expires_at = $3, updated_at = NOW()
        WHERE id = $1
    `, id, accessToken, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return token.ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepository) UpdateLastSync(ctx context.Context, id string, at time.Time) error {
	defer observe("update_last_sync", "gmail_connections", time.Now())

	_, err := r.db.Exec(ctx, `
        UPDATE gmail_connections SET last_sync_at = $2, updated_at = NOW() WHERE id = $1
    `, id, at)
	return err
}
