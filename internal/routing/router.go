// Package routing implements the Router: composes a primary and a
// fallback Provider Client, each guarded by its own circuit breaker
// and retry policy, with transparent failover.
package routing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/relayhq/relay/internal/providers"
	"github.com/relayhq/relay/internal/relayerr"
)

// Target names one provider's model override for a call.
type Target struct {
	Provider string
	Model    string
}

// chatFunc is satisfied by both (*providers.Client).Chat and a closure
// wrapping StreamChat, letting the breaker+retry plumbing be shared.
type chatFunc func(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error)

// guardedProvider pairs a Provider Client with its own breaker.
type guardedProvider struct {
	name    string
	client  *providers.Client
	model   string
	breaker *gobreaker.CircuitBreaker[*providers.CompletionResponse]
}

// Router composes a primary and fallback Provider Client.
type Router struct {
	primary  *guardedProvider
	fallback *guardedProvider
}

// Option configures optional Router behavior.
type Option func(*routerOptions)

type routerOptions struct {
	onStateChange func(name string, from, to gobreaker.State)
}

// WithStateChangeObserver registers a callback invoked whenever either
// breaker transitions state (closed/open/half-open), letting callers
// record circuit-breaker metrics without the Router
// depending on a metrics package directly.
func WithStateChangeObserver(fn func(name string, from, to gobreaker.State)) Option {
	return func(o *routerOptions) { o.onStateChange = fn }
}

// New builds a Router from a primary and fallback Provider Client plus
// the model each should be rewritten to use.
func New(primaryClient *providers.Client, primaryModel string, fallbackClient *providers.Client, fallbackModel string, opts ...Option) *Router {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Router{
		primary:  newGuardedProvider("primary", primaryClient, primaryModel, o.onStateChange),
		fallback: newGuardedProvider("fallback", fallbackClient, fallbackModel, o.onStateChange),
	}
}

// newGuardedProvider builds a gobreaker.CircuitBreaker that trips once at
// least 10 calls have been counted and 50% or more of them failed (slow
// calls count as failures; there is no separate slow-call threshold).
// With Interval 0 the counts accumulate from the last state change; they
// do not cover only the most recent 10 calls. Open state lasts 30s;
// half-open permits 2 probe calls.
func newGuardedProvider(name string, client *providers.Client, model string, onStateChange func(name string, from, to gobreaker.State)) *guardedProvider {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Validation errors are caller mistakes, not provider
			// health signals; don't record them as breaker failures.
			if kind, ok := relayerr.KindOf(err); ok && kind == relayerr.ValidationError {
				return true
			}
			return false
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onStateChange(name, from, to)
		}
	}
	return &guardedProvider{
		name:    name,
		client:  client,
		model:   model,
		breaker: gobreaker.NewCircuitBreaker[*providers.CompletionResponse](settings),
	}
}

const slowCallThreshold = 60 * time.Second

// call executes fn through the breaker, also recording a call that
// exceeds slowCallThreshold as a failure even when fn itself returns no
// error, by comparing elapsed time against the threshold within the
// breaker's execute closure.
func (g *guardedProvider) call(ctx context.Context, req *providers.CompletionRequest, fn chatFunc) (*providers.CompletionResponse, error) {
	return g.breaker.Execute(func() (*providers.CompletionResponse, error) {
		start := time.Now()
		resp, err := retryCall(ctx, func() (*providers.CompletionResponse, error) {
			return fn(ctx, req)
		})
		if err == nil && time.Since(start) >= slowCallThreshold {
			return resp, relayerr.New(relayerr.Network, "provider call exceeded slow-call threshold")
		}
		return resp, err
	})
}

// retryCall retries up to 3 attempts total, with exponential backoff
// starting at 1s (waits of about 1s, then 2s, with backoff's default
// jitter), retrying only on Network/RateLimited-tagged errors.
func retryCall(ctx context.Context, fn chatFunc2) (*providers.CompletionResponse, error) {
	op := func() (*providers.CompletionResponse, error) {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		if kind, ok := relayerr.KindOf(err); ok && (kind == relayerr.Network || kind == relayerr.RateLimited) {
			return nil, err
		}
		// Non-retryable: stop the backoff loop immediately.
		return nil, backoff.Permanent(err)
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 1 * time.Second
	expo.Multiplier = 2
	expo.MaxElapsedTime = 0
	return backoff.Retry(ctx, op, backoff.WithBackOff(expo), backoff.WithMaxTries(3))
}

// chatFunc2 avoids capturing req/ctx in chatFunc's signature for the
// retry wrapper, which only needs a zero-arg thunk.
type chatFunc2 func() (*providers.CompletionResponse, error)

// Chat performs a non-streaming completion, trying primary then
// fallback.
func (r *Router) Chat(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return r.dispatch(ctx, req, func(ctx context.Context, c *providers.Client, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return c.Chat(ctx, req)
	})
}

// StreamChat performs a streaming completion, trying primary then
// fallback. A stream that fails mid-transmission after onToken has
// already fired for partial content still counts as a failed call; the
// caller sees a restart under the fallback, with already-emitted tokens
// not retracted.
func (r *Router) StreamChat(ctx context.Context, req *providers.CompletionRequest, onToken providers.OnToken) (*providers.CompletionResponse, error) {
	return r.dispatch(ctx, req, func(ctx context.Context, c *providers.Client, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return c.StreamChat(ctx, req, onToken)
	})
}

func (r *Router) dispatch(ctx context.Context, req *providers.CompletionRequest, fn func(context.Context, *providers.Client, *providers.CompletionRequest) (*providers.CompletionResponse, error)) (*providers.CompletionResponse, error) {
	primaryReq := *req
	primaryReq.Model = r.primary.model
	resp, err := r.primary.call(ctx, &primaryReq, func(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return fn(ctx, r.primary.client, req)
	})
	if err == nil {
		return resp, nil
	}

	// Any exception or CallNotPermitted (breaker open/half-open
	// exhausted) triggers failover to the fallback provider.
	fallbackReq := *req
	fallbackReq.Model = r.fallback.model
	resp, fbErr := r.fallback.call(ctx, &fallbackReq, func(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return fn(ctx, r.fallback.client, req)
	})
	if fbErr != nil {
		return nil, relayerr.Wrap(relayerr.ProviderError, fbErr, "primary and fallback both failed")
	}
	return resp, nil
}
