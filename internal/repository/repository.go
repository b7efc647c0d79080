package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"atsinbox/pkg/metrics"
)

func observe(operation, table string, start time.Time) {
	metrics.RecordDBQueryDuration(operation, table, time.Since(start))
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isRowID reports whether id can name a gmail_inbox_messages row. Anything
// else cannot exist and must not reach the uuid column.
func isRowID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// nullIfEmpty maps "" to SQL NULL.
func nullIfEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
