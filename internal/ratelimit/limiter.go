package ratelimit

import "context"

// RateLimiter throttles outbound delivery attempts per named scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
