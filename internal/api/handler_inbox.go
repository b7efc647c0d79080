package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mqcontracts "atsinbox/contracts/mq"
	"atsinbox/internal/gmail"
	"atsinbox/internal/service/inbox"
	"atsinbox/internal/token"
	"atsinbox/pkg/circuitbreaker"
	"atsinbox/pkg/logger"
	"atsinbox/pkg/mq"
)

type InboxService interface {
	List(ctx context.Context, params inbox.ListParams) (*inbox.ListResult, error)
	Get(ctx context.Context, id string) (*inbox.Detail, error)
	Patch(ctx context.Context, id string, req inbox.PatchRequest) (*inbox.Item, error)
}

type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

type InboxHandler struct {
	service      InboxService
	publisher    EventPublisher
	connectionID string
	logger       *zap.Logger
}

func NewInboxHandler(service InboxService, publisher EventPublisher, connectionID string, logger *zap.Logger) *InboxHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxHandler{
		service:      service,
		publisher:    publisher,
		connectionID: connectionID,
		logger:       logger,
	}
}

type errorBody struct {
	Message string  `json:"message"`
	Field   string  `json:"field,omitempty"`
	Value   *string `json:"value,omitempty"`
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": errorBody{Message: message}})
}

// clampInt parses raw and clamps it to [lo, hi]. Absent or unparsable input
// yields fallback.
func clampInt(raw string, lo, hi, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	v := math.Trunc(f)
	if v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}

// List handles GET /api/inbox
func (h *InboxHandler) List(c *gin.Context) {
	params := inbox.ListParams{
		Limit:   clampInt(c.Query("limit"), 1, inbox.MaxLimit, inbox.DefaultLimit),
		Page:    clampInt(c.Query("page"), 1, math.MaxInt32, 1),
		ToEmail: strings.TrimSpace(c.Query("toEmail")),
		Search:  strings.TrimSpace(c.Query("search")),
	}

	res, err := h.service.List(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"items": res.Items,
		"page":  res.Page,
		"stats": res.Stats,
	})
}

// Get handles GET /api/inbox/:id
func (h *InboxHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "item": item})
}

// Patch handles PATCH /api/inbox/:id
func (h *InboxHandler) Patch(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := decodePatch(body)
	if err != nil {
		h.fail(c, err)
		return
	}

	item, err := h.service.Patch(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "item": item})
}

// decodePatch picks the known keys out of body. mailType wins over
// mail_type when both are sent.
func decodePatch(body map[string]json.RawMessage) (inbox.PatchRequest, error) {
	var (
		req inbox.PatchRequest
		err error
	)
	if req.Status, err = optionalString(body, "status"); err != nil {
		return req, err
	}
	if req.JobID, err = optionalString(body, "jobId"); err != nil {
		return req, err
	}
	if req.CompanyID, err = optionalString(body, "companyId"); err != nil {
		return req, err
	}
	if req.MailType, err = optionalString(body, "mailType"); err != nil {
		return req, err
	}
	if req.MailType == nil {
		if req.MailType, err = optionalString(body, "mail_type"); err != nil {
			return req, err
		}
	}
	return req, nil
}

func optionalString(body map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := body[key]
	if !ok {
		return nil, nil
	}
	if string(raw) == "null" {
		empty := ""
		return &empty, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, &inbox.ValidationError{Field: key, Value: string(raw)}
	}
	return &s, nil
}

// RequestSync handles POST /api/inbox/sync
func (h *InboxHandler) RequestSync(c *gin.Context) {
	var req struct {
		Force bool `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	payload := mqcontracts.SyncRequestedPayload{
		ConnectionID: h.connectionID,
		Force:        req.Force,
		RequestedBy:  c.GetString(userIDKey),
		RequestedAt:  time.Now().UTC(),
	}
	if err := h.publisher.PublishWithContext(c.Request.Context(), mq.RoutingKeySyncRequested, payload); err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to publish sync request", zap.Error(err))
		abortWithError(c, http.StatusServiceUnavailable, "failed to queue sync")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"ok": true, "status": "queued"})
}

// fail maps service errors onto HTTP statuses.
func (h *InboxHandler) fail(c *gin.Context, err error) {
	var (
		vErr   *inbox.ValidationError
		apiErr *gmail.APIError
	)
	switch {
	case errors.As(err, &vErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": errorBody{
			Message: vErr.Error(),
			Field:   vErr.Field,
			Value:   &vErr.Value,
		}})
	case errors.Is(err, inbox.ErrNothingToPatch):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, inbox.ErrNotFound):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, token.ErrConnectionNotFound),
		errors.Is(err, token.ErrTokenExchangeFailed),
		errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen),
		errors.As(err, &apiErr):
		abortWithError(c, http.StatusBadGateway, err.Error())
	default:
		logger.WithTrace(c.Request.Context(), h.logger).Error("Inbox request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		abortWithError(c, http.StatusInternalServerError, "internal error")
	}
}
