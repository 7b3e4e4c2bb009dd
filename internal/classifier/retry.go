package classifier

import (
	"context"
	"time"

	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"go.uber.org/zap"
)

// RetryingOracle retries timeouts and unavailable responses with linear backoff.
// Malformed responses are returned immediately.
type RetryingOracle struct {
	next       Oracle
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func NewRetryingOracle(next Oracle, maxRetries int, backoff time.Duration, logger *zap.Logger) *RetryingOracle {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryingOracle{
		next:       next,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}
}

func (r *RetryingOracle) Classify(ctx context.Context, req Request) (*models.Classification, error) {
	for attempt := 0; ; attempt++ {
		result, err := r.next.Classify(ctx, req)
		if err == nil {
			return result, nil
		}
		if !errors.Transient(err) || attempt >= r.maxRetries {
			return nil, err
		}

		wait := r.backoff * time.Duration(attempt+1)
		r.logger.Warn("Retrying classification",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}
