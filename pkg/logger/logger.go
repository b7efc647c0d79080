package logger

import (
	"context"

	"go.uber.org/zap"

	"atsinbox/pkg/trace"
)

// NewLogger builds the production zap logger. Development mode swaps in the
// human-readable console encoder.
func NewLogger(development bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return l
}

// WithTrace adds the trace_id found in ctx to logger.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id := trace.FromContext(ctx); id != "" {
		return logger.With(zap.String("trace_id", id))
	}
	return logger
}
