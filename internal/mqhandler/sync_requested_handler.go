package mqhandler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	mqcontracts "atsinbox/contracts/mq"
	"atsinbox/internal/service/mailsync"
	"atsinbox/pkg/logger"
	"atsinbox/pkg/mq"
)

type Syncer interface {
	Run(ctx context.Context, opts mailsync.Options) (*mailsync.Result, error)
}

type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

type SyncRequestedHandler struct {
	syncer       Syncer
	publisher    EventPublisher
	connectionID string
	logger       *zap.Logger
}

// NewSyncRequestedHandler creates the handler; publisher may be nil.
func NewSyncRequestedHandler(syncer Syncer, publisher EventPublisher, connectionID string, logger *zap.Logger) *SyncRequestedHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncRequestedHandler{
		syncer:       syncer,
		publisher:    publisher,
		connectionID: connectionID,
		logger:       logger,
	}
}

// HandleSyncRequested runs one sync. Errors go back to the consumer, whose
// retry policy decides between requeue and DLQ.
func (h *SyncRequestedHandler) HandleSyncRequested(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.SyncRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal sync request payload", zap.Error(err))
		return err
	}
	if p.ConnectionID != "" && p.ConnectionID != h.connectionID {
		log.Warn("Ignoring sync request for unknown connection", zap.String("connection_id", p.ConnectionID))
		return nil
	}

	log.Info("Sync requested",
		zap.Bool("force", p.Force),
		zap.String("requested_by", p.RequestedBy),
	)

	res, err := h.syncer.Run(ctx, mailsync.Options{Force: p.Force})
	if errors.Is(err, mailsync.ErrAlreadyRunning) {
		log.Info("Sync already in progress, request dropped")
		return nil
	}
	h.PublishCompleted(ctx, res, err)
	return err
}

// PublishCompleted announces the outcome of a run. Publish failures are
// only logged.
func (h *SyncRequestedHandler) PublishCompleted(ctx context.Context, res *mailsync.Result, runErr error) {
	if h.publisher == nil {
		return
	}
	evt := mqcontracts.SyncCompletedPayload{ConnectionID: h.connectionID, OK: runErr == nil}
	if res != nil {
		evt.SyncType = res.SyncType
		evt.MessagesFetched = res.MessagesFetched
		evt.MessagesInserted = res.MessagesInserted
	}
	if runErr != nil {
		evt.Error = runErr.Error()
	}
	if err := h.publisher.PublishWithContext(ctx, mq.RoutingKeySyncCompleted, evt); err != nil {
		logger.WithTrace(ctx, h.logger).Warn("Failed to publish sync completed event", zap.Error(err))
	}
}
