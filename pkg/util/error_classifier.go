package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"atsinbox/pkg/circuitbreaker"
)

// HTTPStatusError is implemented by upstream errors that carry a response
// status (Gmail API, OAuth token endpoint).
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// ErrNotFound is wrapped by lookups whose record does not exist. Retrying
// cannot make it appear.
var ErrNotFound = errors.New("not found")

// Messages that mean the mailbox must be re-authorized by an operator.
var permanentAuthMarkers = []string{
	"unauthorized",
	"invalid credentials",
	"re-authentication required",
	"invalid_grant",
}

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "circuit_open"
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}

	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.HTTPStatus(); {
		case code == 401 || code == 403:
			return false, "auth_error"
		case code == 404:
			return false, "not_found"
		case code == 429:
			return true, "rate_limited"
		case code >= 500:
			return true, "upstream_error"
		default:
			return false, "upstream_client_error"
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range permanentAuthMarkers {
		if strings.Contains(errStr, marker) {
			return false, "auth_error"
		}
	}

	// malformed payloads never decode on a retry
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return false, "duplicate_key"
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return true, "db_connection_error"
		}
		return false, "db_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		return true, "connection_error"
	}

	return false, "unknown_error"
}

// ShouldRetry checks if an error should be retried based on retry count
func ShouldRetry(retryCount int64, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}
