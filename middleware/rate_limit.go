package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// loginAttempt tracks login attempts from an IP.
type loginAttempt struct {
	count    int
	firstAt  time.Time
	lockedAt time.Time
	locked   bool
}

// LoginLimiter throttles login attempts per client IP. After maxAttempts
// failures inside the window the IP is locked for lockDuration.
type LoginLimiter struct {
	mu           sync.Mutex
	attempts     map[string]*loginAttempt
	maxAttempts  int
	windowPeriod time.Duration
	lockDuration time.Duration
}

var loginLimiter *LoginLimiter

// InitLoginLimiter initializes the shared login limiter.
func InitLoginLimiter() {
	loginLimiter = NewLoginLimiter(5, 15*time.Minute, 30*time.Minute)
	go loginLimiter.startCleanup()
}

// NewLoginLimiter creates a login limiter.
func NewLoginLimiter(maxAttempts int, windowPeriod, lockDuration time.Duration) *LoginLimiter {
	return &LoginLimiter{
		attempts:     make(map[string]*loginAttempt),
		maxAttempts:  maxAttempts,
		windowPeriod: windowPeriod,
		lockDuration: lockDuration,
	}
}

func (rl *LoginLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *LoginLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, attempt := range rl.attempts {
		if attempt.locked {
			if now.Sub(attempt.lockedAt) > rl.lockDuration {
				delete(rl.attempts, ip)
			}
		} else if now.Sub(attempt.firstAt) > rl.windowPeriod {
			delete(rl.attempts, ip)
		}
	}
}

// Check reports whether an IP may attempt a login, how many attempts
// remain, and the remaining lock duration when blocked.
func (rl *LoginLimiter) Check(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	attempt, exists := rl.attempts[ip]
	if !exists {
		return true, rl.maxAttempts, 0
	}

	if attempt.locked {
		remaining := rl.lockDuration - now.Sub(attempt.lockedAt)
		if remaining > 0 {
			return false, 0, remaining
		}
		delete(rl.attempts, ip)
		return true, rl.maxAttempts, 0
	}

	if now.Sub(attempt.firstAt) > rl.windowPeriod {
		delete(rl.attempts, ip)
		return true, rl.maxAttempts, 0
	}

	remaining := rl.maxAttempts - attempt.count
	if remaining <= 0 {
		return false, 0, rl.windowPeriod - now.Sub(attempt.firstAt)
	}
	return true, remaining, 0
}

// RecordAttempt records a login outcome for an IP. Success clears state.
func (rl *LoginLimiter) RecordAttempt(ip string, success bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if success {
		delete(rl.attempts, ip)
		return
	}

	now := time.Now()
	attempt, exists := rl.attempts[ip]
	if !exists || now.Sub(attempt.firstAt) > rl.windowPeriod {
		rl.attempts[ip] = &loginAttempt{count: 1, firstAt: now}
		return
	}

	attempt.count++
	if attempt.count >= rl.maxAttempts {
		attempt.locked = true
		attempt.lockedAt = now
	}
}

// RecordLoginAttempt records an outcome against the shared limiter.
func RecordLoginAttempt(ip string, success bool) {
	if loginLimiter != nil {
		loginLimiter.RecordAttempt(ip, success)
	}
}

// LoginRateLimitMiddleware blocks login attempts from locked IPs.
func LoginRateLimitMiddleware() gin.HandlerFunc {
	if loginLimiter == nil {
		InitLoginLimiter()
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		ip := c.ClientIP()
		allowed, remaining, lockDuration := loginLimiter.Check(ip)
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     "Too many login attempts, try again later",
				"retry_after": int(lockDuration.Seconds()),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
