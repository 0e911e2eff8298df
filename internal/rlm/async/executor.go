// Package async provides batched parallel execution of independent
// delegated sub-queries with a concurrency cap, per-call timeouts, and
// bounded retry with exponential backoff.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// Delegate executes one sub-query and returns its result text.
type Delegate func(ctx context.Context, prompt, payload string) (string, error)

// Query is one independent sub-query in a batch.
type Query struct {
	// ID attributes the result; supplied by the caller.
	ID string

	// Prompt is the instruction for the delegated call.
	Prompt string

	// Payload is the content to analyze.
	Payload string
}

// BatchResult collects per-query outcomes keyed by caller-supplied id,
// so completion order does not affect attribution.
type BatchResult struct {
	Results   map[string]string
	Errors    map[string]error
	TotalTime time.Duration
	Timings   map[string]time.Duration
}

// Config configures the executor.
type Config struct {
	// MaxParallel caps concurrent calls per batch.
	MaxParallel int

	// Timeout is the per-call deadline.
	Timeout time.Duration

	// MaxRetries bounds retry attempts per call (0 = no retries).
	MaxRetries int

	// BaseBackoff is the initial backoff between attempts.
	BaseBackoff time.Duration

	// FailFast aborts remaining work in the current batch on the
	// first error instead of collecting partial failures.
	FailFast bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallel: 4,
		Timeout:     60 * time.Second,
		MaxRetries:  2,
		BaseBackoff: 500 * time.Millisecond,
	}
}

// Executor runs batches of independent delegated sub-queries. Each
// invocation is isolated; no mutable state is shared across calls.
type Executor struct {
	cfg Config
}

// NewExecutor creates a batch executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	return &Executor{cfg: cfg}
}

// ExecuteBatch runs the queries with bounded concurrency. Unless
// FailFast is set, partial failures are collected per-query-id
// alongside successes and the returned error is nil.
func (e *Executor) ExecuteBatch(ctx context.Context, queries []Query, delegate Delegate) (*BatchResult, error) {
	result := &BatchResult{
		Results: make(map[string]string, len(queries)),
		Errors:  make(map[string]error),
		Timings: make(map[string]time.Duration, len(queries)),
	}
	if len(queries) == 0 {
		return result, nil
	}

	start := time.Now()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.cfg.MaxParallel)

	for _, q := range queries {
		q := q

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			callStart := time.Now()
			text, err := e.callWithRetry(gctx, q, delegate)

			mu.Lock()
			result.Timings[q.ID] = time.Since(callStart)
			if err != nil {
				result.Errors[q.ID] = err
			} else {
				result.Results[q.ID] = text
			}
			mu.Unlock()

			if err != nil && e.cfg.FailFast {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	result.TotalTime = time.Since(start)

	if err != nil && e.cfg.FailFast {
		return result, err
	}
	return result, nil
}

// callWithRetry wraps one delegated call with the per-call timeout and
// exponential-backoff retry policy.
func (e *Executor) callWithRetry(ctx context.Context, q Query, delegate Delegate) (string, error) {
	backoff := retry.WithMaxRetries(uint64(e.cfg.MaxRetries), retry.NewExponential(e.cfg.BaseBackoff))

	var text string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		out, err := delegate(callCtx, q.Prompt, q.Payload)
		if err != nil {
			return retry.RetryableError(err)
		}
		text = out
		return nil
	})

	return text, err
}
