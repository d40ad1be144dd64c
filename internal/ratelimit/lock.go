package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const jobLockPrefix = "classpay:scheduler:leader:"

// Deletes the key only while it still carries the holder's token, so a lease
// that outlived its TTL cannot release a newer holder's lock.
const releaseJobLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockNotConfigured = errors.New("job_lock_not_configured")
	ErrInvalidJobName    = errors.New("invalid_job_name")
	ErrInvalidLockTTL    = errors.New("invalid_lock_ttl")
)

// ReleaseFunc gives a job lease back.
type ReleaseFunc func(ctx context.Context) error

// JobLocker makes a scheduler job single-runner across replicas.
type JobLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewJobLocker(client *redis.Client) *JobLocker {
	if client == nil {
		return nil
	}
	return &JobLocker{
		client: client,
		script: redis.NewScript(releaseJobLockScript),
	}
}

// JobLockKey is the Redis key that guards job.
func JobLockKey(job string) string {
	return jobLockPrefix + strings.ToLower(strings.TrimSpace(job))
}

// AcquireJob takes the lease for job. acquired is false when another replica
// holds it; release is then nil.
func (l *JobLocker) AcquireJob(ctx context.Context, job string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, ErrLockNotConfigured
	}
	if strings.TrimSpace(job) == "" {
		return nil, false, ErrInvalidJobName
	}
	if ttl <= 0 {
		return nil, false, ErrInvalidLockTTL
	}

	key := JobLockKey(job)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		return l.script.Run(ctx, l.client, []string{key}, token).Err()
	}, true, nil
}
