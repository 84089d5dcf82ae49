package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out requests to the same host. Requests to distinct
// hosts never wait for each other.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	interval time.Duration
	log      *slog.Logger
}

func New(interval time.Duration, log *slog.Logger) *RateLimiter {
	if interval <= 0 {
		interval = DefaultHostInterval
	}

	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
		log:      log,
	}
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return err
	}

	limiter := rl.limiterFor(host)

	if limiter.Tokens() < 1 {
		rl.log.DebugContext(ctx, "Rate limiting feed request",
			"host", host,
			"interval", rl.interval)
	}

	if err = limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for host %s: %w", host, err)
	}

	return nil
}

func (rl *RateLimiter) limiterFor(host string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.limiters[host]
	rl.mu.RUnlock()

	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok = rl.limiters[host]; ok {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Every(rl.interval), hostBurst)
	rl.limiters[host] = limiter

	return limiter
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}

	if u.Host == "" {
		return "", errors.New("URL has no host")
	}

	return strings.ToLower(u.Host), nil
}
