package common

import (
	"sync"
	"time"
)

// RateLimiter ограничивает число вызовов ключа (source:subject) в скользящем окне.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
}

// NewRateLimiter создает limiter: не больше limit вызовов за window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{limit: limit, window: window, calls: make(map[string][]time.Time)}
}

// Allow учитывает вызов и сообщает, укладывается ли он в лимит.
// Отклоненный вызов в окно не записывается.
func (l *RateLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.recent(key, now)
	if len(recent) >= l.limit {
		l.calls[key] = recent
		return false
	}
	l.calls[key] = append(recent, now)
	return true
}

// Sweep удаляет ключи без вызовов в текущем окне и возвращает их число.
func (l *RateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key := range l.calls {
		if recent := l.recent(key, now); len(recent) > 0 {
			l.calls[key] = recent
			continue
		}
		delete(l.calls, key)
		removed++
	}
	return removed
}

// Keys возвращает число отслеживаемых ключей.
func (l *RateLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *RateLimiter) recent(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	calls := l.calls[key]
	kept := calls[:0]
	for _, ts := range calls {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
