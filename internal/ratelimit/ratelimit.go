// Package ratelimit is a sliding-window admission check keyed by client IP.
//
// The limiter is advisory: when its store is missing or failing it lets
// requests through if configured to fail open, which is the default.
package ratelimit

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"climbcrew/internal/apperr"
)

// Policy is a named limit: at most Limit hits per Window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	// PolicyAuth guards joins and other credential-adjacent actions.
	PolicyAuth = Policy{Name: "auth", Limit: 5, Window: time.Minute}
	// PolicyMutation guards general writes.
	PolicyMutation = Policy{Name: "mutation", Limit: 30, Window: time.Minute}
)

// Window is the state of one key after a hit was offered.
type Window struct {
	Count    int       // hits recorded inside the window, this one included if admitted
	Oldest   time.Time // earliest hit still inside the window
	Admitted bool      // the hit fit under the limit and was recorded
}

// Store offers a hit under limit and reports the resulting window. Hits
// over the limit are not recorded.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error)
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Options struct {
	FailOpen bool
	Timeout  time.Duration
	Prefix   string
	Now      func() time.Time
}

type Limiter struct {
	store    Store
	failOpen bool
	timeout  time.Duration
	prefix   string
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a limiter. A nil store means no backing store is configured.
func New(store Store, opts Options, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Prefix == "" {
		opts.Prefix = "climbcrew:rl"
	}
	return &Limiter{
		store:    store,
		failOpen: opts.FailOpen,
		timeout:  opts.Timeout,
		prefix:   opts.Prefix,
		now:      opts.Now,
		logger:   logger,
	}
}

// Allow records a hit for client under p. A store failure yields an allowed
// decision when failing open and an internal error otherwise.
func (l *Limiter) Allow(ctx context.Context, p Policy, client string) (Decision, error) {
	if l.store == nil {
		return l.unavailable(ctx, p, nil)
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	now := l.now()
	w, err := l.store.Hit(ctx, l.key(p, client), p.Limit, p.Window, now)
	if err != nil {
		return l.unavailable(ctx, p, err)
	}
	if w.Admitted {
		return Decision{Allowed: true, Remaining: p.Limit - w.Count}, nil
	}
	retry := w.Oldest.Add(p.Window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

func (l *Limiter) unavailable(ctx context.Context, p Policy, err error) (Decision, error) {
	if l.failOpen {
		if err != nil {
			l.logger.WarnContext(ctx, "rate limit store unavailable, allowing", "policy", p.Name, "error", err)
		}
		return Decision{Allowed: true, Remaining: p.Limit}, nil
	}
	return Decision{}, apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, "rate limiter unavailable", err)
}

// key hashes the client so raw addresses never reach the store.
func (l *Limiter) key(p Policy, client string) string {
	sum := blake2b.Sum256([]byte(client))
	return l.prefix + ":" + p.Name + ":" + hex.EncodeToString(sum[:16])
}

// ClientKey derives the bucket for a request: the first X-Forwarded-For
// entry, then X-Real-IP, then "anonymous".
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return "anonymous"
}
