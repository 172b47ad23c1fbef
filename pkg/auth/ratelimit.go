package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hossam-create/mnbara-trustplane/pkg/api"
)

// LimitPolicy defines per-actor request limits.
type LimitPolicy struct {
	RPM   int
	Burst int
}

// LimiterStore abstracts the storage for rate-limit buckets.
type LimiterStore interface {
	// Allow reports whether the actor may perform an action costing cost.
	Allow(ctx context.Context, actorID string, policy LimitPolicy, cost int) (bool, error)
}

// InMemoryLimiterStore keeps token buckets in process. Suitable for
// single-instance deployments and tests; multi-instance deployments use
// the Redis store so actors cannot multiply their budget per replica.
type InMemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{buckets: make(map[string]*rate.Limiter)}
}

func (s *InMemoryLimiterStore) Allow(ctx context.Context, actorID string, policy LimitPolicy, cost int) (bool, error) {
	s.mu.Lock()
	lim, ok := s.buckets[actorID]
	if !ok {
		perSec := rate.Limit(float64(policy.RPM) / 60.0)
		if perSec <= 0 {
			perSec = 1
		}
		lim = rate.NewLimiter(perSec, policy.Burst)
		s.buckets[actorID] = lim
	}
	s.mu.Unlock()
	return lim.AllowN(time.Now(), cost), nil
}

// redisTokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key, ARGV = rate/sec, capacity, cost, now.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiterStore implements LimiterStore over Redis.
type RedisLimiterStore struct {
	client *redis.Client
}

// NewRedisLimiterStore creates a store backed by Redis.
func NewRedisLimiterStore(addr, password string, db int) *RedisLimiterStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiterStore{client: rdb}
}

// Allow executes the Lua script to check and update the token bucket.
func (s *RedisLimiterStore) Allow(ctx context.Context, actorID string, policy LimitPolicy, cost int) (bool, error) {
	key := fmt.Sprintf("limiter:%s", actorID)

	perSec := float64(policy.RPM) / 60.0
	if perSec <= 0 {
		perSec = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{key}, perSec, policy.Burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid response from lua script")
	}
	return allowed == 1, nil
}

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP
// layer. The actor is the authenticated principal, falling back to the
// remote address for unauthenticated paths. Over-limit requests get 429
// with a Retry-After header.
func RateLimitMiddleware(store LimiterStore, policy LimitPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = principal.GetID()
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				// A broken limiter must not take the control plane down.
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				retryAfter := 60 / policy.RPM
				if retryAfter < 1 {
					retryAfter = 1
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
