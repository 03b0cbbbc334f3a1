package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

type Handler func(ctx context.Context, job Job) error

// Policy bounds how often one job is retried.
type Policy struct {
	MaxAttempts int
	// MaxUnhandledExceptions is the number of recovered panics after which
	// the job is abandoned even when attempts remain.
	MaxUnhandledExceptions int
	InitialInterval        time.Duration
	MaxInterval            time.Duration
	Multiplier             float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:            3,
		MaxUnhandledExceptions: 2,
		InitialInterval:        time.Second,
		MaxInterval:            30 * time.Second,
		Multiplier:             2,
	}
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	return b
}

// PanicError is returned when a handler panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Outcome of a processed job reported to the observer.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
)

type WorkerOptions struct {
	Logger             zerolog.Logger
	OnPermanentFailure func(ctx context.Context, job Job, err error)
	Observe            func(stage string, outcome string)
}

type Worker struct {
	queue       Queue
	handle      Handler
	policy      Policy
	log         zerolog.Logger
	onPermanent func(ctx context.Context, job Job, err error)
	observe     func(stage string, outcome string)
}

func NewWorker(q Queue, h Handler, p Policy, opts WorkerOptions) *Worker {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.MaxUnhandledExceptions <= 0 {
		p.MaxUnhandledExceptions = 1
	}
	return &Worker{
		queue:       q,
		handle:      h,
		policy:      p,
		log:         opts.Logger,
		onPermanent: opts.OnPermanentFailure,
		observe:     opts.Observe,
	}
}

// Run starts concurrency goroutines pulling from the queue and blocks until
// ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log := w.log.With().Int("worker", n).Logger()
			for {
				job, err := w.queue.Dequeue(ctx)
				if err != nil {
					if ctx.Err() != nil || errors.Is(err, ErrClosed) {
						return
					}
					log.Error().Err(err).Msg("dequeue failed")
					if !sleepCtx(ctx, time.Second) {
						return
					}
					continue
				}
				_ = w.Process(ctx, job)
			}
		}(i)
	}
	wg.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// Process runs one job under the retry policy. The returned error is the
// final verdict; permanent failures are also passed to OnPermanentFailure.
func (w *Worker) Process(ctx context.Context, job Job) error {
	log := w.log.With().Str("job_id", job.ID).Str("response_id", job.ResponseID).Str("stage", string(job.Stage)).Bool("redelivered", job.Redelivered).Logger()
	attempts, panics := 0, 0
	var last error

	op := func() (struct{}, error) {
		attempts++
		err := w.safeHandle(ctx, job)
		if err == nil {
			return struct{}{}, nil
		}
		last = err
		var pe *PanicError
		if errors.As(err, &pe) {
			panics++
			log.Error().Interface("panic", pe.Value).Bytes("stack", pe.Stack).Int("attempt", attempts).Msg("job_panic")
			if panics >= w.policy.MaxUnhandledExceptions {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		if IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn().Err(err).Int("attempt", attempts).Msg("job_attempt_failed")
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(w.policy.backOff()),
		backoff.WithMaxTries(uint(w.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			w.report(job, OutcomeRetried)
			log.Debug().Dur("delay", d).Msg("job_retry_scheduled")
		}),
	)
	if err == nil {
		w.report(job, OutcomeSucceeded)
		log.Info().Int("attempts", attempts).Msg("job_done")
		return nil
	}
	if ctx.Err() != nil {
		// Shutdown: leave the verdict to the next delivery.
		log.Warn().Err(last).Int("attempts", attempts).Msg("job_interrupted")
		return ctx.Err()
	}
	w.report(job, OutcomeFailed)
	log.Error().Err(err).Int("attempts", attempts).Int("panics", panics).Msg("job_failed_permanently")
	if w.onPermanent != nil {
		w.onPermanent(ctx, job, err)
	}
	return err
}

func (w *Worker) safeHandle(ctx context.Context, job Job) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return w.handle(ctx, job)
}

func (w *Worker) report(job Job, outcome string) {
	if w.observe != nil {
		w.observe(string(job.Stage), outcome)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
