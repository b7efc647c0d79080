package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atsinbox/internal/model"
)

const inboxColumns = `id, gmail_message_id, thread_id, from_email, to_email, subject, snippet,
        received_at, site_key, status, job_id, company_id, mail_type, created_at, updated_at`

type InboxRepository struct {
	db *pgxpool.Pool
}

func NewInboxRepository(db *pgxpool.Pool) *InboxRepository {
	return &InboxRepository{db: db}
}

// buildInboxWhere renders the filter clause and its arguments. Search is a
// case-insensitive substring match over subject, sender and snippet.
func buildInboxWhere(f model.InboxFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if to := strings.TrimSpace(f.ToEmail); to != "" {
		args = append(args, to)
		conds = append(conds, fmt.Sprintf("to_email = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(subject ILIKE $%d OR from_email ILIKE $%d OR snippet ILIKE $%d)", n, n, n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// List returns one page ordered by received_at desc, plus the total number
// of rows matching the filter.
func (r *InboxRepository) List(ctx context.Context, f model.InboxFilter) ([]model.InboxMessage, int, error) {
	defer observe("list", "gmail_inbox_messages", time.Now())

	where, args := buildInboxWhere(f)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM gmail_inbox_messages"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count inbox: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
        SELECT %s
        FROM gmail_inbox_messages%s
        ORDER BY received_at DESC NULLS LAST, id
        LIMIT $%d OFFSET $%d
    `, inboxColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list inbox: %w", err)
	}
	msgs, err := collectInbox(rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// ListForStats loads the columns needed for KPI aggregation across the
// whole table.
func (r *InboxRepository) ListForStats(ctx context.Context) ([]model.InboxMessage, error) {
	defer observe("list_stats", "gmail_inbox_messages", time.Now())

	rows, err := r.db.Query(ctx, `
        SELECT id, subject, status, job_id, company_id, site_key, received_at, mail_type
        FROM gmail_inbox_messages
    `)
	if err != nil {
		return nil, fmt.Errorf("list inbox stats: %w", err)
	}
	defer rows.Close()

	var out []model.InboxMessage
	for rows.Next() {
		var (
			m                                 model.InboxMessage
			subject, status, siteKey, mailTyp *string
			receivedAt                        *time.Time
		)
		if err := rows.Scan(&m.ID, &subject, &status, &m.JobID, &m.CompanyID, &siteKey, &receivedAt, &mailTyp); err != nil {
			return nil, err
		}
		m.Subject = deref(subject)
		m.Status = deref(status)
		m.SiteKey = deref(siteKey)
		m.MailType = deref(mailTyp)
		m.ReceivedAt = derefTime(receivedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindByID returns nil when no row exists.
func (r *InboxRepository) FindByID(ctx context.Context, id string) (*model.InboxMessage, error) {
	if !isRowID(id) {
		return nil, nil
	}
	defer observe("find", "gmail_inbox_messages", time.Now())

	rows, err := r.db.Query(ctx, "SELECT "+inboxColumns+" FROM gmail_inbox_messages WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("find inbox message: %w", err)
	}
	msgs, err := collectInbox(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// buildPatch renders the SET clause. Empty job/company ids clear the link.
func buildPatch(p model.InboxPatch) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.JobID != nil {
		add("job_id", nullIfEmpty(p.JobID))
	}
	if p.CompanyID != nil {
		add("company_id", nullIfEmpty(p.CompanyID))
	}
	if p.MailType != nil {
		add("mail_type", *p.MailType)
	}
	sets = append(sets, "updated_at = NOW()")
	return strings.Join(sets, ", "), args
}

// Patch applies p and returns the updated row, or nil when id is unknown.
func (r *InboxRepository) Patch(ctx context.Context, id string, p model.InboxPatch) (*model.InboxMessage, error) {
	if !isRowID(id) {
		return nil, nil
	}
	defer observe("patch", "gmail_inbox_messages", time.Now())

	set, args := buildPatch(p)
	args = append(args, id)
	query := fmt.Sprintf("UPDATE gmail_inbox_messages SET %s WHERE id = $%d RETURNING %s", set, len(args), inboxColumns)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patch inbox message: %w", err)
	}
	msgs, err := collectInbox(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// PromoteIfNew moves a row from new (or empty) to registered. It reports
// whether a row changed; concurrent callers are safe because the status
// check is part of the UPDATE.
func (r *InboxRepository) PromoteIfNew(ctx context.Context, id string) (bool, error) {
	if !isRowID(id) {
		return false, nil
	}
	defer observe("promote", "gmail_inbox_messages", time.Now())

	tag, err := r.db.Exec(ctx, `
        UPDATE gmail_inbox_messages
        SET status = 'registered', updated_at = NOW()
        WHERE id = $1 AND (status IS NULL OR lower(status) IN ('new', ''))
    `, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertFromSync inserts a synced message or refreshes its header fields.
// Status, job, mail type and an existing company link are never
// overwritten. It reports whether a new row was created.
func (r *InboxRepository) UpsertFromSync(ctx context.Context, m *model.InboxMessage) (bool, error) {
	defer observe("upsert", "gmail_inbox_messages", time.Now())

	var received *time.Time
	if !m.ReceivedAt.IsZero() {
		received = &m.ReceivedAt
	}

	var inserted bool
	err := r.db.QueryRow(ctx, `
        INSERT INTO gmail_inbox_messages
            (id, gmail_message_id, thread_id, from_email, to_email, subject, snippet,
             received_at, site_key, status, company_id, mail_type, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'new', $10, 'application', NOW(), NOW())
        ON CONFLICT (gmail_message_id) DO UPDATE SET
            thread_id   = EXCLUDED.thread_id,
            from_email  = EXCLUDED.from_email,
            to_email    = EXCLUDED.to_email,
            subject     = EXCLUDED.subject,
            snippet     = EXCLUDED.snippet,
            received_at = EXCLUDED.received_at,
            company_id  = COALESCE(gmail_inbox_messages.company_id, EXCLUDED.company_id),
            updated_at  = NOW()
        RETURNING (xmax = 0)
    `,
		m.ID, m.GmailMessageID, m.ThreadID, m.FromEmail, m.ToEmail, m.Subject, m.Snippet,
		received, m.SiteKey, m.CompanyID,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert inbox message %s: %w", m.GmailMessageID, err)
	}
	return inserted, nil
}

func collectInbox(rows pgx.Rows) ([]model.InboxMessage, error) {
	defer rows.Close()

	var out []model.InboxMessage
	for rows.Next() {
		var (
			m                               model.InboxMessage
			from, subject, snippet, siteKey *string
			status, mailType                *string
			receivedAt                      *time.Time
		)
		err := rows.Scan(
			&m.ID,
			&m.GmailMessageID,
			&m.ThreadID,
			&from,
			&m.ToEmail,
			&subject,
			&snippet,
			&receivedAt,
			&siteKey,
			&status,
			&m.JobID,
			&m.CompanyID,
			&mailType,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		m.FromEmail = deref(from)
		m.Subject = deref(subject)
		m.Snippet = deref(snippet)
		m.SiteKey = deref(siteKey)
		m.Status = deref(status)
		m.MailType = deref(mailType)
		m.ReceivedAt = derefTime(receivedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
