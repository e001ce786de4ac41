package resilience

import (
	"context"
	"time"

	"github.com/sells-group/trigger-cli/internal/model"
)

// Guard wraps every call to one collaborator with a per-call timeout,
// bounded retries on transient errors and the collaborator's breaker.
type Guard struct {
	service string
	breaker *Breaker
	retry   RetryPolicy
	timeout time.Duration
}

// NewGuard builds a guard for service. A zero timeout leaves calls bounded
// only by the caller's context.
func NewGuard(service string, breakers *Breakers, retry RetryPolicy, timeout time.Duration) *Guard {
	if breakers == nil {
		breakers = NewBreakers(DefaultBreakerConfig())
	}
	return &Guard{
		service: service,
		breaker: breakers.For(service),
		retry:   retry,
		timeout: timeout,
	}
}

// Service returns the collaborator name.
func (g *Guard) Service() string {
	return g.service
}

// Call runs fn through g. Failures come back as *model.CollaboratorError
// naming the service and op.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	policy := g.retry
	if policy.OnRetry == nil {
		policy.OnRetry = RetryLogger(g.service, op)
	}

	v, err := DoVal(ctx, policy, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, g.breaker, func(ctx context.Context) (T, error) {
			if g.timeout <= 0 {
				return fn(ctx)
			}
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			return fn(callCtx)
		})
	})
	if err != nil {
		var zero T
		return zero, model.NewCollaboratorError(g.service, op, err)
	}
	return v, nil
}
