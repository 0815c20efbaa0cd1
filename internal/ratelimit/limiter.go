// Package ratelimit implements a sliding-window rate limiter over the
// append-only rate_events table, with a short memoization tier to cut store
// round trips.
package ratelimit

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Actions subject to rate limiting.
const (
	ActionChat           = "chat"
	ActionVideoUpload    = "video_upload"
	ActionChannelProcess = "channel_process"
)

// User classes.
const (
	ClassAnonymous = "anonymous"
	ClassUser      = "user"
	ClassPremium   = "premium"
)

// memoTTL is how long a window count may be served from memory before the
// store is consulted again.
const memoTTL = 60 * time.Second

// Limits holds the hourly and daily caps for one user_class x action cell.
// A nil cap disables that window.
type Limits struct {
	Hourly *int
	Daily  *int
}

// Store is the persistence surface the limiter needs.
type Store interface {
	InsertRateEvent(identifier, action string, at time.Time) error
	CountRateEvents(identifier, action string, since time.Time) (int, error)
	OldestRateEventSince(identifier, action string, since time.Time) (*time.Time, error)
	DeleteRateEventsBefore(cutoff time.Time) (int64, error)
}

// Result is the limiter's decision, computed from the most restrictive of the
// active windows.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Window    string
}

// Limiter checks and records rate events.
type Limiter struct {
	store  Store
	limits map[string]map[string]Limits // class -> action -> caps
	now    func() time.Time

	mu   sync.Mutex
	memo map[string]memoEntry
}

type memoEntry struct {
	count     int
	fetchedAt time.Time
}

func intPtr(n int) *int { return &n }

// defaultLimits is the configured cap table.
func defaultLimits() map[string]map[string]Limits {
	return map[string]map[string]Limits{
		ClassAnonymous: {
			ActionChat:           {Hourly: intPtr(3), Daily: intPtr(10)},
			ActionVideoUpload:    {Hourly: intPtr(1), Daily: intPtr(2)},
			ActionChannelProcess: {Hourly: intPtr(1), Daily: intPtr(2)},
		},
		ClassUser: {
			ActionChat:           {Hourly: intPtr(5), Daily: intPtr(100)},
			ActionVideoUpload:    {Hourly: intPtr(5), Daily: intPtr(20)},
			ActionChannelProcess: {Hourly: intPtr(2), Daily: intPtr(10)},
		},
		ClassPremium: {
			ActionChat:           {Hourly: intPtr(100), Daily: intPtr(1000)},
			ActionVideoUpload:    {Hourly: intPtr(20), Daily: intPtr(100)},
			ActionChannelProcess: {Hourly: intPtr(10), Daily: intPtr(50)},
		},
	}
}

// New creates a limiter with the default cap table.
func New(store Store) *Limiter {
	return &Limiter{
		store:  store,
		limits: defaultLimits(),
		now:    time.Now,
		memo:   make(map[string]memoEntry),
	}
}

// Check evaluates the identifier against the caps for the action and class.
// On a store error it fails open: a broken store must not block traffic.
func (l *Limiter) Check(identifier, action, userClass string) Result {
	now := l.now()
	caps, ok := l.limits[userClass][action]
	if !ok {
		return Result{Allowed: true, Limit: -1, Remaining: -1, ResetAt: now}
	}

	windows := []struct {
		name string
		span time.Duration
		cap  *int
	}{
		{"hour", time.Hour, caps.Hourly},
		{"day", 24 * time.Hour, caps.Daily},
	}

	// Evaluate each active window and keep the most restrictive decision:
	// any exhausted window denies, otherwise the smallest remaining wins.
	var candidates []Result
	for _, w := range windows {
		if w.cap == nil {
			continue
		}
		count, err := l.windowCount(identifier, action, w.name, now.Add(-w.span))
		if err != nil {
			log.Printf("!!! [RATELIMIT] Store error counting %s/%s, failing open: %v", identifier, action, err)
			return Result{Allowed: true, Limit: *w.cap, Remaining: *w.cap, ResetAt: now}
		}

		remaining := *w.cap - count
		if remaining < 0 {
			remaining = 0
		}
		candidates = append(candidates, Result{
			Allowed:   count < *w.cap,
			Limit:     *w.cap,
			Remaining: remaining,
			ResetAt:   l.windowResetAt(identifier, action, now, w.span),
			Window:    w.name,
		})
	}
	if len(candidates) == 0 {
		return Result{Allowed: true, Limit: -1, Remaining: -1, ResetAt: now}
	}

	result := candidates[0]
	for _, c := range candidates[1:] {
		if (!c.Allowed && result.Allowed) || (c.Allowed == result.Allowed && c.Remaining < result.Remaining) {
			result = c
		}
	}
	return result
}

// Record appends one rate event and invalidates the memoized counts for the
// identifier/action pair.
func (l *Limiter) Record(identifier, action string) {
	if err := l.store.InsertRateEvent(identifier, action, l.now()); err != nil {
		log.Printf("!!! [RATELIMIT] Failed to record event for %s/%s: %v", identifier, action, err)
		return
	}
	l.mu.Lock()
	delete(l.memo, memoKey(identifier, action, "hour"))
	delete(l.memo, memoKey(identifier, action, "day"))
	l.mu.Unlock()
}

// Prune deletes events outside every window; run from a daily tick.
func (l *Limiter) Prune(retention time.Duration) {
	n, err := l.store.DeleteRateEventsBefore(l.now().Add(-retention))
	if err != nil {
		log.Printf("!!! [RATELIMIT] Prune failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[RATELIMIT] Pruned %d old rate event(s).", n)
	}
}

func memoKey(identifier, action, window string) string {
	return identifier + "|" + action + "|" + window
}

func (l *Limiter) windowCount(identifier, action, window string, since time.Time) (int, error) {
	key := memoKey(identifier, action, window)
	now := l.now()

	l.mu.Lock()
	if e, ok := l.memo[key]; ok && now.Sub(e.fetchedAt) < memoTTL {
		l.mu.Unlock()
		return e.count, nil
	}
	l.mu.Unlock()

	count, err := l.store.CountRateEvents(identifier, action, since)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.memo[key] = memoEntry{count: count, fetchedAt: now}
	l.mu.Unlock()
	return count, nil
}

// windowResetAt is when the oldest in-window event rolls out of the window.
func (l *Limiter) windowResetAt(identifier, action string, now time.Time, span time.Duration) time.Time {
	oldest, err := l.store.OldestRateEventSince(identifier, action, now.Add(-span))
	if err != nil || oldest == nil {
		return now.Add(span)
	}
	return oldest.Add(span)
}

// --- Identifier derivation ---

// IdentifierFor derives the rate identifier: authenticated requests count per
// user, anonymous ones per client IP.
func IdentifierFor(userID, clientIP string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP
}

// ClientIP resolves the caller's address from forwarded headers in documented
// order: Cloudflare, first X-Forwarded-For hop, X-Real-IP, then the socket
// peer.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClassFor maps request identity onto a user class.
func ClassFor(userID string, premium bool) string {
	switch {
	case userID == "":
		return ClassAnonymous
	case premium:
		return ClassPremium
	default:
		return ClassUser
	}
}

// String renders a one-line summary of the result.
func (r Result) String() string {
	return fmt.Sprintf("allowed=%t remaining=%d window=%s", r.Allowed, r.Remaining, r.Window)
}
