package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "classpay:ratelimit:"

// Refills at ARGV[1] tokens/s up to ARGV[2], takes one token when available
// and returns {allowed, whole tokens left, now ms, retry-after ms}.
const bucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) / 1000 * rate)
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil((1 - tokens) / rate * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens), now, retry}
`

var (
	ErrLimiterNotConfigured = errors.New("rate_limiter_not_configured")
	ErrInvalidRule          = errors.New("invalid_rate_limit_rule")
	ErrInvalidSubject       = errors.New("invalid_rate_limit_subject")
	errBadReply             = errors.New("invalid_rate_limit_reply")
)

// Rule is one named bucket configuration, e.g. payment creation per actor.
type Rule struct {
	Name  string
	Rate  float64
	Burst int
}

func (r Rule) valid() bool {
	return strings.TrimSpace(r.Name) != "" && r.Rate > 0 && r.Burst > 0
}

// ttl keeps an idle bucket around for twice its full refill time.
func (r Rule) ttl() time.Duration {
	if r.Rate <= 0 || r.Burst <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(float64(r.Burst)/r.Rate*2))
	return time.Duration(seconds) * time.Second
}

func (r Rule) key(subject string) string {
	return keyPrefix + r.Name + ":" + strings.TrimSpace(subject)
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket evaluates Rules against Redis.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(bucketScript),
	}
}

// Take spends one token of rule's bucket for subject.
func (t *TokenBucket) Take(ctx context.Context, rule Rule, subject string) (*RateLimitResult, error) {
	denied := &RateLimitResult{Limit: rule.Burst}
	if t == nil || t.client == nil {
		return denied, ErrLimiterNotConfigured
	}
	if !rule.valid() {
		return denied, ErrInvalidRule
	}
	if strings.TrimSpace(subject) == "" {
		return denied, ErrInvalidSubject
	}

	reply, err := t.script.Run(ctx, t.client, []string{rule.key(subject)},
		rule.Rate, rule.Burst, rule.ttl().Milliseconds()).Int64Slice()
	if err != nil {
		return denied, err
	}
	return decodeReply(rule, reply)
}

func decodeReply(rule Rule, reply []int64) (*RateLimitResult, error) {
	if len(reply) != 4 {
		return &RateLimitResult{Limit: rule.Burst}, errBadReply
	}
	retryAfter := time.Duration(reply[3]) * time.Millisecond
	return &RateLimitResult{
		Allowed:    reply[0] == 1,
		Limit:      rule.Burst,
		Remaining:  int(reply[1]),
		ResetTime:  time.UnixMilli(reply[2]).Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}
