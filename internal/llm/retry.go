package llm

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxRetries   = 2
	defaultRetryBackoff = 2 * time.Second
)

// callPolicy applies the per-call timeout and transient retry shared by all adapters.
type callPolicy struct {
	provider   string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
}

func newCallPolicy(s Settings) callPolicy {
	p := callPolicy{
		provider:   s.Name,
		timeout:    s.Timeout,
		maxRetries: s.MaxRetries,
		backoff:    s.RetryBackoff,
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.backoff <= 0 {
		p.backoff = defaultRetryBackoff
	}
	return p
}

// streaming returns a policy for opening streams. The stream outlives the
// call that opened it, so no per-call timeout is applied.
func (p callPolicy) streaming() callPolicy {
	p.timeout = 0
	return p
}

// do runs fn until it succeeds, fails permanently, or retries run out.
// fn must return errors already classified as *ProviderError.
func (p callPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if p.timeout > 0 {
			callCtx, cancel := context.WithTimeout(ctx, p.timeout)
			err = fn(callCtx)
			cancel()
		} else {
			err = fn(ctx)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(err) || attempt >= p.maxRetries {
			return err
		}
		wait := p.backoff << attempt
		slog.Warn("provider call failed, retrying",
			"provider", p.provider, "attempt", attempt+1, "wait", wait, "err", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
