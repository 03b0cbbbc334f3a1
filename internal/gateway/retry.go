package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Observer receives one callback per gateway attempt.
type Observer func(op string, class Class, elapsed time.Duration)

type RetryOptions struct {
	Attempts int
	Delays   []time.Duration
	Logger   zerolog.Logger
	Observe  Observer
}

// Retrying wraps a Gateway with per-call timeouts and bounded retries of
// transient failures.
type Retrying struct {
	next     Gateway
	attempts int
	delays   []time.Duration
	log      zerolog.Logger
	observe  Observer
}

func WithRetry(next Gateway, opts RetryOptions) *Retrying {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if len(opts.Delays) == 0 {
		opts.Delays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	return &Retrying{
		next:     next,
		attempts: opts.Attempts,
		delays:   opts.Delays,
		log:      opts.Logger,
		observe:  opts.Observe,
	}
}

func (r *Retrying) ModelName() string { return r.next.ModelName() }

func (r *Retrying) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	return r.do(ctx, req.Op, req.Timeout, func(ctx context.Context) (string, error) {
		return r.next.GenerateText(ctx, req)
	})
}

func (r *Retrying) AnalyzeAudio(ctx context.Context, req AudioRequest) (string, error) {
	return r.do(ctx, req.Op, req.Timeout, func(ctx context.Context) (string, error) {
		return r.next.AnalyzeAudio(ctx, req)
	})
}

func (r *Retrying) do(ctx context.Context, op string, timeout time.Duration, call func(context.Context) (string, error)) (string, error) {
	var lastErr error
	attempt := 0
	operation := func() (string, error) {
		attempt++
		start := time.Now()
		r.log.Debug().Str("op", op).Int("attempt", attempt).Msg("gateway_attempt_start")

		out, err := r.attempt(ctx, timeout, call)
		if err == nil && strings.TrimSpace(out) == "" {
			err = ErrEmptyReply
		}
		if err == nil {
			r.notify(op, ClassNone, time.Since(start))
			r.log.Debug().Str("op", op).Int("attempt", attempt).
				Int64("elapsed_ms", time.Since(start).Milliseconds()).
				Int("response_chars", len(out)).Msg("gateway_attempt_success")
			return out, nil
		}

		gerr := asGatewayError(op, err)
		lastErr = gerr
		r.notify(op, gerr.Class, time.Since(start))
		r.log.Warn().Str("op", op).Int("attempt", attempt).Str("class", gerr.Class.String()).
			Int("status_code", gerr.StatusCode).Int64("elapsed_ms", time.Since(start).Milliseconds()).
			Err(err).Msg("gateway_attempt_error")

		if !gerr.Retryable() || ctx.Err() != nil {
			return "", backoff.Permanent(gerr)
		}
		return "", gerr
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&schedule{delays: r.delays}),
		backoff.WithMaxTries(uint(r.attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return out, nil
	}
	// Cancellation while waiting surfaces the last gateway failure.
	if lastErr != nil {
		return "", lastErr
	}
	return "", err
}

func (r *Retrying) attempt(ctx context.Context, timeout time.Duration, call func(context.Context) (string, error)) (string, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := call(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", context.DeadlineExceeded
	}
	return out, err
}

// schedule hands out delays in order and then repeats the last one.
type schedule struct {
	delays []time.Duration
	n      int
}

func (s *schedule) NextBackOff() time.Duration {
	i := s.n
	if i >= len(s.delays) {
		i = len(s.delays) - 1
	}
	s.n++
	return s.delays[i]
}

func (s *schedule) Reset() { s.n = 0 }

func (r *Retrying) notify(op string, class Class, d time.Duration) {
	if r.observe != nil {
		r.observe(op, class, d)
	}
}
