package service

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/fxrisk/market"
	"go.uber.org/zap"
)

// fetch runs fn with a per-attempt timeout, retrying transient failures with
// a linear backoff. Missing data is permanent and returned at once.
func fetch[T any](ctx context.Context, s *Service, what string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero T
		err  error
	)
	for attempt := 0; attempt <= s.cfg.FetchRetries; attempt++ {
		actx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		v, ferr := fn(actx)
		cancel()
		if ferr == nil {
			return v, nil
		}
		err = ferr
		if errors.Is(err, market.ErrNoData) || ctx.Err() != nil {
			break
		}

		s.log.Warn("fetch failed",
			zap.String("what", what),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.cfg.FetchRetries+1),
			zap.Error(err))
		if attempt == s.cfg.FetchRetries {
			break
		}

		select {
		case <-time.After(s.cfg.RetryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, err
}
