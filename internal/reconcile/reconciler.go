// Package reconcile matches inbox messages against known applicants and
// promotes matched messages from new to registered.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"atsinbox/internal/model"
	"atsinbox/pkg/logger"
	"atsinbox/pkg/metrics"
)

const (
	dedupHandler   = "promote"
	releaseTimeout = 2 * time.Second
)

// PromotionStore performs the conditional new -> registered update. It
// reports whether a row actually changed.
type PromotionStore interface {
	PromoteIfNew(ctx context.Context, id string) (bool, error)
}

// Deduper suppresses repeated writes for the same id across requests.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

// Result is a message together with the status to report for this response.
type Result struct {
	Message         *model.InboxMessage
	EffectiveStatus string
	Promoted        bool
}

// Eligible reports whether m may be auto-promoted: still new, linked to both
// a job and a company, and with a known receive time.
func Eligible(m *model.InboxMessage) bool {
	return model.IsNewStatus(m.Status) && m.HasJob() && m.HasCompany() && !m.ReceivedAt.IsZero()
}

// EffectiveStatus returns the status to report for m and whether it was
// promoted by the index.
func EffectiveStatus(m *model.InboxMessage, ix *Index) (string, bool) {
	if Eligible(m) && ix.Has(*m.CompanyID, *m.JobID, m.ReceivedAt) {
		return model.StatusRegistered, true
	}
	return m.Status, false
}

// Reconcile computes effective statuses. It never demotes and only ever
// turns new into registered.
func Reconcile(msgs []model.InboxMessage, ix *Index) []Result {
	out := make([]Result, len(msgs))
	for i := range msgs {
		st, promoted := EffectiveStatus(&msgs[i], ix)
		out[i] = Result{Message: &msgs[i], EffectiveStatus: st, Promoted: promoted}
	}
	return out
}

// PromotedIDs collects the ids of promoted results.
func PromotedIDs(results []Result) []string {
	var ids []string
	for _, r := range results {
		if r.Promoted {
			ids = append(ids, r.Message.ID)
		}
	}
	return ids
}

// Reconciler persists promotions in the background.
type Reconciler struct {
	store   PromotionStore
	deduper Deduper
	logger  *zap.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewReconciler creates a Reconciler. deduper may be nil.
func NewReconciler(store PromotionStore, deduper Deduper, log *zap.Logger, timeout time.Duration) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reconciler{
		store:   store,
		deduper: deduper,
		logger:  log,
		timeout: timeout,
	}
}

// PersistPromotions fires the conditional updates for ids and returns
// immediately. Failures are logged and dropped; the source rows stay new, so
// the next read retries naturally.
func (r *Reconciler) PersistPromotions(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	log := logger.WithTrace(ctx, r.logger)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(bg, r.timeout)
		defer cancel()

		for _, id := range ids {
			r.promote(ctx, log, id)
		}
	}()
}

func (r *Reconciler) promote(ctx context.Context, log *zap.Logger, id string) {
	if r.deduper != nil && !r.deduper.AcquireOnce(ctx, dedupHandler, id) {
		metrics.IncrementPromotion("deduped")
		return
	}

	changed, err := r.store.PromoteIfNew(ctx, id)
	if err != nil {
		if r.deduper != nil {
			// the batch context may already be spent
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			r.deduper.Release(relCtx, dedupHandler, id)
			cancel()
		}
		metrics.IncrementPromotion("failed")
		log.Warn("Promotion write failed",
			zap.String("inbox_id", id),
			zap.Error(err),
		)
		return
	}
	if !changed {
		metrics.IncrementPromotion("noop")
		return
	}

	metrics.IncrementPromotion("promoted")
	log.Info("Inbox message promoted",
		zap.String("inbox_id", id),
		zap.String("status", model.StatusRegistered),
	)
}

// Wait blocks until every in-flight promotion batch has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
