package retry

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kingfisher/internal/metrics"
	"kingfisher/internal/model"
)

const DefaultBackoff = 15 * time.Second

type Options struct {
	Backoff time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Timer replaces the wall-clock wait; tests inject one that fires immediately.
	Timer backoff.Timer
}

// Policy retries a single call site exactly once, after a fixed wait, and
// only when the first failure is classified as a rate limit.
type Policy struct {
	backoff time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	timer   backoff.Timer
}

func New(opts Options) *Policy {
	wait := opts.Backoff
	if wait <= 0 {
		wait = DefaultBackoff
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Policy{
		backoff: wait,
		logger:  logger,
		metrics: opts.Metrics,
		timer:   opts.Timer,
	}
}

func (p *Policy) Backoff() time.Duration {
	return p.backoff
}

// Do runs fn and, on a rate-limited first attempt, runs it once more. Each
// call gets its own budget.
func (p *Policy) Do(ctx context.Context, site string, fn func(context.Context) (model.Response, error)) (model.Response, error) {
	attempt := 0
	op := func() (model.Response, error) {
		attempt++
		resp, err := p.call(ctx, site, fn)
		if err == nil {
			return resp, nil
		}
		if attempt > 1 || !model.IsRateLimit(err) {
			return model.Response{}, backoff.Permanent(err)
		}
		return model.Response{}, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.backoff), 1), ctx)
	notify := func(err error, wait time.Duration) {
		p.metrics.ObserveRetry(site)
		p.logger.Warn("rate limited, retrying once", "site", site, "wait", wait.String(), "err", err)
	}

	return backoff.RetryNotifyWithTimerAndData(op, b, notify, p.timer)
}

// Once runs fn a single time with the same instrumentation as Do.
func (p *Policy) Once(ctx context.Context, site string, fn func(context.Context) (model.Response, error)) (model.Response, error) {
	return p.call(ctx, site, fn)
}

func (p *Policy) call(ctx context.Context, site string, fn func(context.Context) (model.Response, error)) (model.Response, error) {
	start := time.Now()
	resp, err := fn(ctx)
	p.metrics.ObserveCall(site, err, time.Since(start))
	return resp, err
}
