package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rshare/ride-booking-system/shared/models"
	"golang.org/x/time/rate"
)

const (
	// VerifierInterval is the sustained rate of code requests per session
	VerifierInterval = 30 * time.Second
	// VerifierBurst is the number of code requests allowed at once
	VerifierBurst = 3
)

// slidingWindow admits a request when fewer than ARGV[3] requests were
// admitted in the last ARGV[2] milliseconds
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
if redis.call("ZCARD", key) >= tonumber(ARGV[3]) then
	return 0
end
redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return 1
`)

// Verifier is the anti-automation check owned by one login session
type Verifier struct {
	SessionID string
	limiter   *rate.Limiter

	redis  *redis.Client
	window time.Duration
	burst  int
	now    func() time.Time
}

// Verify consumes one code request from the session's allowance
func (v *Verifier) Verify(ctx context.Context) error {
	allowed, err := v.allow(ctx)
	if err != nil {
		return &models.GatewayError{Message: "Could not verify the request. Please try again.", Err: err}
	}
	if !allowed {
		return &models.GatewayError{Message: "Too many verification attempts. Please try again later."}
	}
	return nil
}

func (v *Verifier) allow(ctx context.Context) (bool, error) {
	if v.redis == nil {
		return v.limiter.Allow(), nil
	}
	n, err := slidingWindow.Run(ctx, v.redis, []string{verifierKey(v.SessionID)},
		v.now().UnixMilli(), v.window.Milliseconds(), v.burst, uuid.NewString()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to check verifier allowance: %w", err)
	}
	return n == 1, nil
}

func verifierKey(sessionID string) string {
	return "verifier:" + sessionID
}

// VerifierPool hands out one Verifier per session. A session's verifier
// lives from its first code request until the login stage ends.
//
// Without Redis the allowance lives in this process, so a deployment with
// several workers gets one allowance per worker. With Redis every worker
// shares the session's allowance and an unreleased one expires on its own.
type VerifierPool struct {
	mu        sync.Mutex
	verifiers map[string]*Verifier
	limit     rate.Limit
	burst     int
	redis     *redis.Client
}

// NewVerifierPool creates an in-process pool with the default allowance
func NewVerifierPool() *VerifierPool {
	return NewVerifierPoolWithLimit(rate.Every(VerifierInterval), VerifierBurst)
}

// NewVerifierPoolWithLimit creates an in-process pool with a custom allowance
func NewVerifierPoolWithLimit(limit rate.Limit, burst int) *VerifierPool {
	return &VerifierPool{
		verifiers: make(map[string]*Verifier),
		limit:     limit,
		burst:     burst,
	}
}

// NewRedisVerifierPool creates a pool whose allowances are kept in Redis.
// A session may make burst requests per burst/limit window.
func NewRedisVerifierPool(client *redis.Client, limit rate.Limit, burst int) *VerifierPool {
	p := NewVerifierPoolWithLimit(limit, burst)
	p.redis = client
	return p
}

// Acquire returns the session's verifier, creating it on first use
func (p *VerifierPool) Acquire(sessionID string) *Verifier {
	if p.redis != nil {
		return &Verifier{
			SessionID: sessionID,
			redis:     p.redis,
			window:    time.Duration(float64(p.burst) / float64(p.limit) * float64(time.Second)),
			burst:     p.burst,
			now:       time.Now,
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.verifiers[sessionID]
	if !ok {
		v = &Verifier{SessionID: sessionID, limiter: rate.NewLimiter(p.limit, p.burst)}
		p.verifiers[sessionID] = v
	}
	return v
}

// Release drops the session's verifier
func (p *VerifierPool) Release(ctx context.Context, sessionID string) error {
	if p.redis != nil {
		if err := p.redis.Del(ctx, verifierKey(sessionID)).Err(); err != nil {
			return fmt.Errorf("failed to release verifier: %w", err)
		}
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.verifiers, sessionID)
	return nil
}

// Len returns the number of live in-process verifiers
func (p *VerifierPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.verifiers)
}
