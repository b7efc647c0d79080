package mailsync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"atsinbox/pkg/logger"
	"atsinbox/pkg/util"
)

// RunWithRetry retries Run with exponential backoff starting at the base
// delay. Permanent errors (auth, not found, cancellation) and a held lock
// stop immediately.
func (s *Syncer) RunWithRetry(ctx context.Context, opts Options) (*Result, error) {
	log := logger.WithTrace(ctx, s.logger)

	var (
		res *Result
		err error
	)
	delay := s.cfg.BaseDelay
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		res, err = s.Run(ctx, opts)
		if err == nil || errors.Is(err, ErrAlreadyRunning) {
			return res, err
		}

		retryable, errType := util.IsRetryableError(err)
		if !retryable || attempt == s.cfg.MaxAttempts {
			log.Error("Mailbox sync failed",
				zap.Int("attempt", attempt),
				zap.String("error_type", errType),
				zap.Bool("retryable", retryable),
				zap.Error(err),
			)
			return res, err
		}

		log.Warn("Mailbox sync failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		if serr := s.sleep(ctx, delay); serr != nil {
			return res, serr
		}
		delay *= 2
	}
	return res, err
}
