// Package mailsync pulls labelled messages from the shared Gmail mailbox
// into gmail_messages and gmail_inbox_messages.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"atsinbox/internal/bodycache"
	"atsinbox/internal/gmail"
	"atsinbox/internal/model"
	"atsinbox/internal/sitekey"
	"atsinbox/pkg/logger"
	"atsinbox/pkg/metrics"
)

const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"

	statusRunning = "running"
	statusSuccess = "success"
	statusError   = "error"

	lockHandler = "mailbox-sync"
)

// ErrAlreadyRunning is returned when another run holds the sync lock.
var ErrAlreadyRunning = errors.New("mailbox sync already running")

type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*model.MailboxConnection, error)
	UpdateLastSync(ctx context.Context, id string, at time.Time) error
}

type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

type MailAPI interface {
	ListLabels(ctx context.Context, accessToken string) ([]gmail.Label, error)
	ListMessages(ctx context.Context, accessToken string, labelIDs []string, query, pageToken string, maxResults int) (*gmail.ListResponse, error)
	GetMessage(ctx context.Context, accessToken, id, format string) (*gmail.Message, error)
}

type CompanyStore interface {
	ListMailTargets(ctx context.Context) ([]model.Company, error)
}

type CacheStore interface {
	Upsert(ctx context.Context, m *model.CachedMessage) error
}

type InboxStore interface {
	UpsertFromSync(ctx context.Context, m *model.InboxMessage) (bool, error)
}

type LogStore interface {
	Start(ctx context.Context, l *model.SyncLog) (int64, error)
	Finish(ctx context.Context, l *model.SyncLog) error
}

// Locker keeps two workers from syncing the same mailbox at once.
type Locker interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

type Config struct {
	ConnectionID  string
	Label         string
	PageSize      int
	MaxTotal      int
	FullSyncAfter time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	// Concurrency bounds parallel messages.get calls.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.ConnectionID == "" {
		c.ConnectionID = "central"
	}
	if c.Label == "" {
		c.Label = "ATS/応募"
	}
	if c.PageSize <= 0 {
		c.PageSize = 200
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = 5000
	}
	if c.FullSyncAfter <= 0 {
		c.FullSyncAfter = 7 * 24 * time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

type Deps struct {
	Connections ConnectionStore
	Tokens      TokenSource
	Gmail       MailAPI
	Companies   CompanyStore
	Cache       CacheStore
	Inbox       InboxStore
	Logs        LogStore
	Lock        Locker // optional
	Logger      *zap.Logger
}

type Options struct {
	Force bool
}

type Result struct {
	SyncType         string
	Query            string
	MessagesFetched  int
	MessagesInserted int
}

type Syncer struct {
	d        Deps
	cfg      Config
	resolver *sitekey.Resolver
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewSyncer(d Deps, cfg Config) *Syncer {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{
		d:        d,
		cfg:      cfg.withDefaults(),
		resolver: sitekey.NewResolver(),
		logger:   log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DecideSyncType returns full when forced, never synced, or when the last
// sync is older than fullAfter. Incremental runs query from the day before
// the last sync since Gmail's after: operator has day granularity.
func DecideSyncType(lastSync *time.Time, force bool, now time.Time, fullAfter time.Duration) (string, string) {
	if force || lastSync == nil || lastSync.Before(now.Add(-fullAfter)) {
		return SyncTypeFull, ""
	}
	from := lastSync.AddDate(0, 0, -1)
	return SyncTypeIncremental, "after:" + from.Format("2006/01/02")
}

// Run executes one sync. Every run that gets past the connection lookup is
// recorded in gmail_sync_logs.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Result, error) {
	log := logger.WithTrace(ctx, s.logger).With(zap.String("connection_id", s.cfg.ConnectionID))

	if s.d.Lock != nil {
		if !s.d.Lock.AcquireOnce(ctx, lockHandler, s.cfg.ConnectionID) {
			return nil, ErrAlreadyRunning
		}
		defer s.d.Lock.Release(context.WithoutCancel(ctx), lockHandler, s.cfg.ConnectionID)
	}

	conn, err := s.d.Connections.GetConnection(ctx, s.cfg.ConnectionID)
	if err != nil {
		metrics.RecordSyncRun(syncTypeFor(opts), statusError, 0)
		return nil, fmt.Errorf("load connection: %w", err)
	}

	started := s.now()
	syncType, query := DecideSyncType(conn.LastSyncAt, opts.Force, started, s.cfg.FullSyncAfter)
	res := &Result{SyncType: syncType, Query: query}

	entry := &model.SyncLog{
		ConnectionID: s.cfg.ConnectionID,
		SyncType:     syncType,
		Status:       statusRunning,
		StartedAt:    started,
	}
	if query != "" {
		entry.QueryUsed = &query
	}
	if id, err := s.d.Logs.Start(ctx, entry); err != nil {
		log.Warn("Failed to start sync log", zap.Error(err))
	} else {
		entry.ID = id
	}

	runErr := s.run(ctx, log, res)

	entry.MessagesFetched = res.MessagesFetched
	entry.MessagesInserted = res.MessagesInserted
	s.finish(ctx, log, entry, started, runErr)

	if runErr != nil {
		metrics.RecordSyncRun(syncType, statusError, 0)
		return res, runErr
	}

	if err := s.d.Connections.UpdateLastSync(ctx, s.cfg.ConnectionID, started); err != nil {
		log.Warn("Failed to update last_sync_at", zap.Error(err))
	}
	metrics.RecordSyncRun(syncType, statusSuccess, res.MessagesInserted)

	log.Info("Mailbox sync finished",
		zap.String("sync_type", syncType),
		zap.String("query", query),
		zap.Int("fetched", res.MessagesFetched),
		zap.Int("inserted", res.MessagesInserted),
		zap.Duration("elapsed", s.now().Sub(started)),
	)
	return res, nil
}

func syncTypeFor(opts Options) string {
	if opts.Force {
		return SyncTypeFull
	}
	return SyncTypeIncremental
}

func (s *Syncer) finish(ctx context.Context, log *zap.Logger, entry *model.SyncLog, started time.Time, runErr error) {
	if entry.ID == 0 {
		return
	}
	done := s.now()
	entry.CompletedAt = &done
	entry.ExecutionTimeMs = done.Sub(started).Milliseconds()
	entry.Status = statusSuccess
	if runErr != nil {
		msg := runErr.Error()
		entry.Status = statusError
		entry.ErrorMessage = &msg
	}
	if err := s.d.Logs.Finish(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("Failed to finish sync log", zap.Int64("log_id", entry.ID), zap.Error(err))
	}
}

func (s *Syncer) run(ctx context.Context, log *zap.Logger, res *Result) error {
	accessToken, err := s.d.Tokens.GetValidAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	labelID, err := s.findLabel(ctx, accessToken)
	if err != nil {
		return err
	}
	if labelID == "" {
		log.Warn("Sync label not found, nothing to do", zap.String("label", s.cfg.Label))
		return nil
	}

	refs, err := s.listRefs(ctx, accessToken, labelID, res.Query)
	if err != nil {
		return err
	}
	res.MessagesFetched = len(refs)
	if len(refs) == 0 {
		return nil
	}

	targets, err := s.d.Companies.ListMailTargets(ctx)
	if err != nil {
		return fmt.Errorf("load companies: %w", err)
	}
	byAddr := companyIndex(targets)

	var inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			ok, err := s.syncOne(gctx, log, accessToken, ref, byAddr)
			if err != nil {
				return err
			}
			if ok {
				inserted.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	res.MessagesInserted = int(inserted.Load())
	return err
}

func (s *Syncer) findLabel(ctx context.Context, accessToken string) (string, error) {
	labels, err := s.d.Gmail.ListLabels(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	want := normalizeLabelName(s.cfg.Label)
	for _, l := range labels {
		if normalizeLabelName(l.Name) == want {
			return l.ID, nil
		}
	}
	return "", nil
}

func (s *Syncer) listRefs(ctx context.Context, accessToken, labelID, query string) ([]gmail.MessageRef, error) {
	var (
		out       []gmail.MessageRef
		pageToken string
	)
	for len(out) < s.cfg.MaxTotal {
		page, err := s.d.Gmail.ListMessages(ctx, accessToken, []string{labelID}, query, pageToken, s.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, ref := range page.Messages {
			if ref.ID == "" {
				continue
			}
			out = append(out, ref)
			if len(out) >= s.cfg.MaxTotal {
				break
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return out, nil
}

// companyIndex maps receiving addresses to company ids. application_email
// wins over the profile job address, which wins over the company address.
func companyIndex(companies []model.Company) map[string]string {
	idx := make(map[string]string)
	put := func(addr, id string) {
		if e := normalizeAddress(addr); e != "" {
			if _, ok := idx[e]; !ok {
				idx[e] = id
			}
		}
	}
	for _, c := range companies {
		put(c.ApplicationEmail, c.ID)
	}
	for _, c := range companies {
		put(c.JobEmail, c.ID)
	}
	for _, c := range companies {
		put(c.CompanyEmail, c.ID)
	}
	return idx
}

var recipientHeaders = []string{"To", "Delivered-To", "X-Original-To", "X-Forwarded-To", "Envelope-To"}

// syncOne stores a single message. A failed fetch only skips the message;
// store failures abort the run.
func (s *Syncer) syncOne(ctx context.Context, log *zap.Logger, accessToken string, ref gmail.MessageRef, byAddr map[string]string) (bool, error) {
	msg, err := s.d.Gmail.GetMessage(ctx, accessToken, ref.ID, "full")
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn("Skipping message, fetch failed", zap.String("gmail_id", ref.ID), zap.Error(err))
		return false, nil
	}
	if msg.ID == "" {
		msg.ID = ref.ID
	}
	if msg.ThreadID == "" {
		msg.ThreadID = ref.ThreadID
	}

	row := s.inboxRow(msg, byAddr)

	cached, err := bodycache.FromGmail(msg)
	if err != nil {
		return false, err
	}
	cached.ToEmail = row.ToEmail
	if row.FromEmail != "" {
		cached.FromEmail = &row.FromEmail
	}
	if err := s.d.Cache.Upsert(ctx, cached); err != nil {
		return false, fmt.Errorf("cache message %s: %w", msg.ID, err)
	}

	return s.d.Inbox.UpsertFromSync(ctx, row)
}

func (s *Syncer) inboxRow(msg *gmail.Message, byAddr map[string]string) *model.InboxMessage {
	from := normalizeAddress(msg.Header("From"))
	subject := msg.Header("Subject")

	var candidates []string
	for _, h := range recipientHeaders {
		candidates = append(candidates, splitAddresses(msg.Header(h))...)
	}

	var to, companyID string
	for _, e := range candidates {
		if id, ok := byAddr[e]; ok {
			to, companyID = e, id
			break
		}
	}
	if to == "" && len(candidates) > 0 {
		to = candidates[0]
	}

	received, ok := msg.ReceivedAt()
	if !ok {
		received = s.now().UTC()
	}

	row := &model.InboxMessage{
		ID:             uuid.NewString(),
		GmailMessageID: msg.ID,
		FromEmail:      from,
		Subject:        subject,
		Snippet:        msg.Snippet,
		ReceivedAt:     received,
		SiteKey:        s.resolver.Resolve(from, subject, msg.Snippet, ""),
		Status:         model.StatusNew,
		MailType:       model.MailTypeApplication,
	}
	if msg.ThreadID != "" {
		row.ThreadID = &msg.ThreadID
	}
	if to != "" {
		row.ToEmail = &to
	}
	if companyID != "" {
		row.CompanyID = &companyID
	}
	return row
}
