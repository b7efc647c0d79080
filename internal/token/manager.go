// Package token keeps the shared mailbox OAuth credential fresh.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"atsinbox/internal/model"
	"atsinbox/pkg/logger"
	"atsinbox/pkg/metrics"
)

const (
	DefaultRefreshSkew = 60 * time.Second
	// used when the provider omits expires_in
	defaultLifetime = time.Hour
	// bounds a shared refresh independently of the callers waiting on it
	refreshTimeout = 15 * time.Second

	googleTokenURL = "https://oauth2.googleapis.com/token"
)

// Store persists the mailbox connection. Implementations return
// ErrConnectionNotFound when the row is missing.
type Store interface {
	GetConnection(ctx context.Context, id string) (*model.MailboxConnection, error)
	UpdateToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error
}

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	ConnectionID string
	RefreshSkew  time.Duration
	HTTPClient   *http.Client
}

type Manager struct {
	store        Store
	oauth        *oauth2.Config
	connectionID string
	skew         time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
	now          func() time.Time
	group        singleflight.Group
}

func NewManager(store Store, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = googleTokenURL
	}
	if cfg.ConnectionID == "" {
		cfg.ConnectionID = "central"
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = DefaultRefreshSkew
	}
	return &Manager{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		connectionID: cfg.ConnectionID,
		skew:         cfg.RefreshSkew,
		httpClient:   cfg.HTTPClient,
		logger:       log,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// NeedsRefresh reports whether conn must be refreshed at now. A connection
// without a known expiry is never refreshed.
func NeedsRefresh(conn *model.MailboxConnection, now time.Time, skew time.Duration) bool {
	if conn == nil || conn.ExpiresAt == nil || conn.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(conn.ExpiresAt.Add(-skew))
}

// GetValidAccessToken returns a usable access token for the shared mailbox,
// refreshing it first when it expires within the skew window. Without a
// refresh token the stored token is returned as is.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	conn, err := m.store.GetConnection(ctx, m.connectionID)
	if err != nil {
		return "", err
	}

	if !NeedsRefresh(conn, m.now(), m.skew) {
		return conn.AccessToken, nil
	}
	if conn.RefreshToken == nil || *conn.RefreshToken == "" {
		logger.WithTrace(ctx, m.logger).Warn("Access token near expiry but no refresh token stored",
			zap.String("connection_id", conn.ID),
		)
		return conn.AccessToken, nil
	}

	refreshToken := *conn.RefreshToken
	ch := m.group.DoChan(conn.ID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(shared, conn.ID, refreshToken)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context, connID, refreshToken string) (string, error) {
	log := logger.WithTrace(ctx, m.logger).With(zap.String("connection_id", connID))

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		metrics.IncrementTokenRefresh("failed")
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			log.Error("Token refresh rejected",
				zap.Int("status", re.Response.StatusCode),
				zap.String("error_code", re.ErrorCode),
			)
			return "", &TokenExchangeError{StatusCode: re.Response.StatusCode, Body: string(re.Body)}
		}
		log.Error("Token refresh failed", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(defaultLifetime)
	}

	if err := m.store.UpdateToken(ctx, connID, tok.AccessToken, expiresAt); err != nil {
		// the fresh token is still valid; the next caller refreshes again
		metrics.IncrementTokenRefresh("persist_failed")
		log.Error("Failed to persist refreshed token", zap.Error(err))
		return tok.AccessToken, nil
	}

	metrics.IncrementTokenRefresh("refreshed")
	log.Info("Access token refreshed", zap.Time("expires_at", expiresAt))
	return tok.AccessToken, nil
}
