package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"atsinbox/internal/model"
)

type SyncLogRepository struct {
	db *pgxpool.Pool
}

func NewSyncLogRepository(db *pgxpool.Pool) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Start inserts a running log row and returns its id.
func (r *SyncLogRepository) Start(ctx context.Context, l *model.SyncLog) (int64, error) {
	defer observe("start", "gmail_sync_logs", time.Now())

	var id int64
	err := r.db.QueryRow(ctx, `
        INSERT INTO gmail_sync_logs (connection_id, sync_type, status, query_used, started_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `, l.ConnectionID, l.SyncType, l.Status, l.QueryUsed, l.StartedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sync log: %w", err)
	}
	return id, nil
}

// Finish records the outcome of a run.
func (r *SyncLogRepository) Finish(ctx context.Context, l *model.SyncLog) error {
	defer observe("finish", "gmail_sync_logs", time.Now())

	_, err := r.db.Exec(ctx, `
        UPDATE gmail_sync_logs
        SET status = $2, messages_fetched = $3, messages_inserted = $4,
            error_message = $5, execution_time_ms = $6, completed_at = $7
        WHERE id = $1
    `, l.ID, l.Status, l.MessagesFetched, l.MessagesInserted, l.ErrorMessage, l.ExecutionTimeMs, l.CompletedAt)
	return err
}
