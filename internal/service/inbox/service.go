// Package inbox serves the inbox list, detail and manual classification
// endpoints.
package inbox

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"atsinbox/internal/gmail"
	"atsinbox/internal/kpi"
	"atsinbox/internal/mailfilter"
	"atsinbox/internal/model"
	"atsinbox/internal/reconcile"
	"atsinbox/internal/sitekey"
	"atsinbox/pkg/logger"
)

type MessageStore interface {
	List(ctx context.Context, f model.InboxFilter) ([]model.InboxMessage, int, error)
	ListForStats(ctx context.Context) ([]model.InboxMessage, error)
	FindByID(ctx context.Context, id string) (*model.InboxMessage, error)
	Patch(ctx context.Context, id string, p model.InboxPatch) (*model.InboxMessage, error)
}

type ApplicantStore interface {
	ListKeys(ctx context.Context) ([]model.ApplicantRecord, error)
}

type CompanyStore interface {
	NamesByID(ctx context.Context, ids []string) (map[string]string, error)
}

type BodySource interface {
	GetBody(ctx context.Context, msg *model.InboxMessage) (gmail.Bodies, error)
}

type Promoter interface {
	PersistPromotions(ctx context.Context, ids []string)
}

type Service struct {
	messages   MessageStore
	applicants ApplicantStore
	companies  CompanyStore
	bodies     BodySource
	promoter   Promoter
	resolver   *sitekey.Resolver
	loc        *time.Location
	logger     *zap.Logger
	now        func() time.Time
}

type Deps struct {
	Messages   MessageStore
	Applicants ApplicantStore
	Companies  CompanyStore
	Bodies     BodySource
	Promoter   Promoter
	Location   *time.Location
	Logger     *zap.Logger
	Now        func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		messages:   d.Messages,
		applicants: d.Applicants,
		companies:  d.Companies,
		bodies:     d.Bodies,
		promoter:   d.Promoter,
		resolver:   sitekey.NewResolver(),
		loc:        d.Location,
		logger:     d.Logger,
		now:        d.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// List returns one page of messages with effective statuses and the global
// stats. Applicant, company and stats lookups degrade to empty results on
// failure; only the page query is fatal.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	p := params.Normalize()
	log := logger.WithTrace(ctx, s.logger)
	now := s.now()

	var (
		page       []model.InboxMessage
		total      int
		applicants []model.ApplicantRecord
		statRows   []model.InboxMessage
		statsOK    = true
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, total, err = s.messages.List(gctx, model.InboxFilter{
			ToEmail: p.ToEmail,
			Search:  p.Search,
			Limit:   p.Limit,
			Offset:  (p.Page - 1) * p.Limit,
		})
		if err != nil {
			return fmt.Errorf("list inbox page: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if applicants, err = s.applicants.ListKeys(gctx); err != nil {
			log.Warn("Applicant lookup failed, reconciling against an empty index", zap.Error(err))
			applicants = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if statRows, err = s.messages.ListForStats(gctx); err != nil {
			log.Warn("Stats query failed, returning zero stats", zap.Error(err))
			statsOK = false
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ix := reconcile.BuildIndex(applicants, s.loc)
	results := reconcile.Reconcile(page, ix)
	if ids := reconcile.PromotedIDs(results); len(ids) > 0 && s.promoter != nil {
		s.promoter.PersistPromotions(ctx, ids)
	}

	names := s.companyNames(ctx, log, page)
	items := s.decorate(results, names, now)

	out := &ListResult{
		Items: items,
		Page:  NewPageInfo(p.Page, p.Limit, total),
	}
	if statsOK {
		out.Stats = kpi.Aggregate(statRows, ix, now)
	}
	return out, nil
}

func (s *Service) companyNames(ctx context.Context, log *zap.Logger, page []model.InboxMessage) map[string]string {
	seen := make(map[string]struct{})
	var ids []string
	for i := range page {
		if page[i].HasCompany() {
			id := *page[i].CompanyID
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 || s.companies == nil {
		return nil
	}
	names, err := s.companies.NamesByID(ctx, ids)
	if err != nil {
		log.Warn("Company name lookup failed", zap.Error(err))
		return nil
	}
	return names
}

// decorate builds view models in parallel. Each worker writes only its own
// slots, so no locking is needed.
func (s *Service) decorate(results []reconcile.Result, names map[string]string, now time.Time) []Item {
	items := make([]Item, len(results))
	if len(results) == 0 {
		return items
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(results) {
		workers = len(results)
	}
	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				items[i] = s.toItem(results[i].Message, results[i].EffectiveStatus, names, now)
			}
		}()
	}
	for i := range results {
		next <- i
	}
	close(next)
	wg.Wait()
	return items
}

func (s *Service) toItem(m *model.InboxMessage, status string, names map[string]string, now time.Time) Item {
	it := Item{
		ID:             m.ID,
		GmailMessageID: m.GmailMessageID,
		ThreadID:       m.ThreadID,
		FromEmail:      m.FromEmail,
		ToEmail:        m.ToEmail,
		Subject:        m.Subject,
		Snippet:        m.Snippet,
		ReceivedAt:     m.ReceivedAt,
		SiteKey:        s.resolver.Resolve(m.FromEmail, m.Subject, m.Snippet, m.SiteKey),
		Status:         status,
		JobID:          m.JobID,
		CompanyID:      m.CompanyID,
		MailType:       model.NormalizeMailType(m.MailType),
		IsReply:        mailfilter.IsReplyLike(m.Subject),
		MailClass:      mailfilter.Classify(m.Subject, m.Snippet),
		Attention:      mailfilter.Attention(m.ReceivedAt, status, now),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.HasCompany() {
		if name, ok := names[*m.CompanyID]; ok {
			it.CompanyName = &name
		}
	}
	return it
}

// Get returns one message with its bodies. Body retrieval errors (token,
// upstream) are returned as is so the caller can map them.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ValidationError{Field: "id", Value: id}
	}
	m, err := s.messages.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load inbox message: %w", err)
	}
	if m == nil {
		return nil, ErrNotFound
	}

	bodies, err := s.bodies.GetBody(ctx, m)
	if err != nil {
		logger.WithTrace(ctx, s.logger).Error("Body fetch failed",
			zap.String("inbox_id", m.ID),
			zap.String("gmail_message_id", m.GmailMessageID),
			zap.Error(err),
		)
		return nil, err
	}

	d := &Detail{Item: s.toItem(m, m.Status, nil, s.now())}
	if bodies.HTML != "" {
		d.BodyHTML = &bodies.HTML
	}
	if bodies.Text != "" {
		d.BodyText = &bodies.Text
	}
	return d, nil
}

// ValidatePatch checks req and converts it to a store patch.
func ValidatePatch(req PatchRequest) (model.InboxPatch, error) {
	var p model.InboxPatch
	if req.Status == nil && req.JobID == nil && req.CompanyID == nil && req.MailType == nil {
		return p, ErrNothingToPatch
	}
	if req.Status != nil {
		st := strings.TrimSpace(*req.Status)
		if !model.IsValidStatus(st) {
			return p, &ValidationError{Field: "status", Value: st}
		}
		p.Status = &st
	}
	if req.MailType != nil {
		mt, ok := model.ParseMailType(*req.MailType)
		if !ok {
			return p, &ValidationError{Field: "mailType", Value: *req.MailType}
		}
		p.MailType = &mt
	}
	if req.JobID != nil {
		v := strings.TrimSpace(*req.JobID)
		p.JobID = &v
	}
	if req.CompanyID != nil {
		v := strings.TrimSpace(*req.CompanyID)
		p.CompanyID = &v
	}
	return p, nil
}

// Patch validates req before any write and applies it.
func (s *Service) Patch(ctx context.Context, id string, req PatchRequest) (*Item, error) {
	p, err := ValidatePatch(req)
	if err != nil {
		return nil, err
	}
	m, err := s.messages.Patch(ctx, strings.TrimSpace(id), p)
	if err != nil {
		return nil, fmt.Errorf("patch inbox message: %w", err)
	}
	if m == nil {
		return nil, ErrNotFound
	}

	logger.WithTrace(ctx, s.logger).Info("Inbox message updated",
		zap.String("inbox_id", m.ID),
		zap.String("status", m.Status),
		zap.String("mail_type", m.MailType),
	)
	it := s.toItem(m, m.Status, nil, s.now())
	return &it, nil
}
