// Package throttle limits sign-in attempts with fixed-window counters on
// Redis. Keys are derived from a hash of the submitted email and the client
// IP so the store never holds raw addresses.
package throttle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLimited means the email+IP pair exhausted its attempt budget for
	// the current window. Callers surface it as a generic rejection.
	ErrLimited = errors.New("throttle: attempt limit exceeded")
	// ErrUnavailable means Redis could not be reached.
	ErrUnavailable = errors.New("throttle: store unavailable")
)

const (
	DefaultMaxAttempts = 10
	DefaultWindow      = 15 * time.Minute
)

// Limiter counts sign-in attempts per email+IP pair.
type Limiter struct {
	redis       redis.UniversalClient
	maxAttempts int
	window      time.Duration
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithBudget overrides the attempt budget and window length.
func WithBudget(maxAttempts int, window time.Duration) Option {
	return func(l *Limiter) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		if window > 0 {
			l.window = window
		}
	}
}

// New creates a Limiter backed by the given Redis client.
func New(client redis.UniversalClient, opts ...Option) *Limiter {
	l := &Limiter{
		redis:       client,
		maxAttempts: DefaultMaxAttempts,
		window:      DefaultWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one attempt and reports whether it is within budget.
// Fixed-window semantics: the TTL starts with the first hit in the window.
func (l *Limiter) Allow(ctx context.Context, email, ip string) error {
	key := attemptKey(email, ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > int64(l.maxAttempts) {
		return ErrLimited
	}
	return nil
}

// Reset clears the counter for the pair. Called after a successful sign-in.
func (l *Limiter) Reset(ctx context.Context, email, ip string) error {
	if err := l.redis.Del(ctx, attemptKey(email, ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func attemptKey(email, ip string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email)) + "\x00" + ip))
	return "throttle:signin:" + hex.EncodeToString(sum[:16])
}
