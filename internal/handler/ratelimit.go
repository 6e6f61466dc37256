package handler

import (
	"database/sql"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/CipherVault/CipherVault/backend/pkg/response"
)

// KeyFunc extracts a rate-limiting key from a request.
type KeyFunc func(c *fiber.Ctx) string

// RateLimiter counts requests per key in fixed windows. When backed by
// the shared database the counters survive restarts and are shared by
// replicas; on a storage error it degrades to an in-memory count rather
// than failing open.
type RateLimiter struct {
	limit    int
	window   time.Duration
	keyFunc  KeyFunc
	db       *sql.DB
	scope    string
	mu       sync.Mutex
	windows  map[string]*windowCount
	stopCh   chan struct{}
	stopOnce sync.Once
}

type windowCount struct {
	count     int
	windowEnd time.Time
}

// NewPersistentRateLimiter creates a limiter backed by the shared SQL
// database under the given scope.
func NewPersistentRateLimiter(db *sql.DB, scope string, limit int, window time.Duration) *RateLimiter {
	return NewPersistentRateLimiterWithKey(db, scope, limit, window, IPKey)
}

// NewPersistentRateLimiterWithKey creates a DB-backed limiter with a
// custom key function.
func NewPersistentRateLimiterWithKey(db *sql.DB, scope string, limit int, window time.Duration, keyFunc KeyFunc) *RateLimiter {
	if keyFunc == nil {
		keyFunc = IPKey
	}
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		keyFunc: keyFunc,
		db:      db,
		scope:   scope,
		windows: make(map[string]*windowCount),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// IPKey limits by client IP. Used on routes that run before
// authentication.
func IPKey(c *fiber.Ctx) string {
	return c.IP()
}

// IPAndUserKey combines the client IP with the authenticated user ID so
// a single user cannot dodge limits by rotating IPs and a shared IP does
// not starve distinct users.
func IPAndUserKey(c *fiber.Ctx) string {
	ip := c.IP()
	if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
		return ip + ":" + userID
	}
	return ip
}

// Middleware returns the rate limiting handler.
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rl.scope + ":" + rl.keyFunc(c)
		now := time.Now()

		allowed, err := rl.allowPersistent(key, now)
		if err != nil {
			allowed = rl.allowInMemory(key, now)
		}
		if !allowed {
			return response.Error(c, fiber.StatusTooManyRequests, "too many requests, please try again later")
		}
		return c.Next()
	}
}

// allowPersistent increments the key's counter with a single upsert that
// resets the count when the previous window has ended.
func (rl *RateLimiter) allowPersistent(key string, now time.Time) (bool, error) {
	windowEnd := now.Add(rl.window)

	_, err := rl.db.Exec(`
		INSERT INTO rate_limit_counters (scope_key, count, window_end, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			count = CASE
				WHEN rate_limit_counters.window_end <= excluded.updated_at THEN 1
				ELSE rate_limit_counters.count + 1
			END,
			window_end = CASE
				WHEN rate_limit_counters.window_end <= excluded.updated_at THEN excluded.window_end
				ELSE rate_limit_counters.window_end
			END,
			updated_at = excluded.updated_at
	`, key, windowEnd, now)
	if err != nil {
		return false, err
	}

	var count int
	if err := rl.db.QueryRow(`SELECT count FROM rate_limit_counters WHERE scope_key = ?`, key).Scan(&count); err != nil {
		return false, err
	}
	return count <= rl.limit, nil
}

func (rl *RateLimiter) allowInMemory(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.After(w.windowEnd) {
		rl.windows[key] = &windowCount{count: 1, windowEnd: now.Add(rl.window)}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()

			rl.mu.Lock()
			for key, w := range rl.windows {
				if now.After(w.windowEnd) {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()

			if rl.db != nil {
				rl.db.Exec(`DELETE FROM rate_limit_counters WHERE window_end <= ?`, now)
			}
		case <-rl.stopCh:
			return
		}
	}
}

// Stop terminates the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}
