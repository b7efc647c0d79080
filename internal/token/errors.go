package token

import (
	"errors"
	"fmt"

	"atsinbox/pkg/util"
)

var (
	ErrConnectionNotFound  = fmt.Errorf("mailbox connection %w", util.ErrNotFound)
	ErrTokenExchangeFailed = errors.New("token exchange failed")
)

// TokenExchangeError is returned when the OAuth provider answers a refresh
// with a non-success status.
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *TokenExchangeError) Unwrap() error { return ErrTokenExchangeFailed }

func (e *TokenExchangeError) HTTPStatus() int { return e.StatusCode }
