package vision

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// Options tune the retry and rate discipline around provider calls.
type Options struct {
	// MaxRetries bounds retries of transient failures; total attempts are
	// MaxRetries+1.
	MaxRetries int
	// BaseDelay doubles per attempt up to MaxDelay, plus uniform jitter.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// CallTimeout applies to each individual provider call.
	CallTimeout time.Duration
	// Rate/Burst configure the global token bucket shared by all requests,
	// reflecting provider quota independent of per-user parallelism.
	Rate  float64
	Burst int
}

// Client wraps a Provider with retry, backoff, rate limiting, and strict
// parsing. It is safe for concurrent use.
type Client struct {
	provider Provider
	limiter  *rate.Limiter
	opts     Options

	// sleep is swappable in tests so backoff does not slow them down.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a Client around the given provider.
func NewClient(provider Provider, opts Options) *Client {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 8 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.Rate <= 0 {
		opts.Rate = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 4
	}
	return &Client{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		opts:     opts,
		sleep:    sleepCtx,
	}
}

// Analyze runs the photo through the provider and returns the parsed raw
// candidate. Transient failures (timeout, 5xx, rate limit) are retried with
// exponential backoff and jitter; malformed responses are returned
// immediately.
func (c *Client) Analyze(ctx context.Context, requestID string, image []byte) (Candidate, error) {
	var lastErr *AnalysisError
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return Candidate{}, c.tag(lastErr, requestID)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return Candidate{}, &AnalysisError{Kind: KindTimeout, RequestID: requestID, Err: err}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		raw, err := c.provider.Send(callCtx, image, FoodPrompt)
		cancel()
		if err != nil {
			lastErr = classify(err)
			if lastErr.Transient() {
				continue
			}
			return Candidate{}, c.tag(lastErr, requestID)
		}
		candidate, err := ParseEstimate(raw)
		if err != nil {
			// A schema mismatch will not fix itself on retry.
			return Candidate{}, c.tag(classify(err), requestID)
		}
		return candidate, nil
	}
	return Candidate{}, c.tag(lastErr, requestID)
}

func (c *Client) backoff(attempt int) time.Duration {
	// Doubling from the previous value with an early-out keeps the delay from
	// shifting past the int64 range when many retries are configured.
	delay := c.opts.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= c.opts.MaxDelay {
			break
		}
		delay *= 2
	}
	if delay > c.opts.MaxDelay {
		delay = c.opts.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

func (c *Client) tag(err *AnalysisError, requestID string) *AnalysisError {
	if err == nil {
		err = &AnalysisError{Kind: KindProvider}
	}
	err.RequestID = requestID
	return err
}

// classify folds arbitrary provider errors into the taxonomy. Providers that
// already return an AnalysisError keep their kind; otherwise timeouts are
// detected from context and net errors, and everything else counts as a
// provider-side fault.
func classify(err error) *AnalysisError {
	var analysisErr *AnalysisError
	if errors.As(err, &analysisErr) {
		return analysisErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &AnalysisError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &AnalysisError{Kind: KindTimeout, Err: err}
	}
	return &AnalysisError{Kind: KindProvider, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
