package cache

import (
	"strings"
	"time"

	"github.com/smallbiznis/classpay/internal/config"
	"go.uber.org/fx"
)

const (
	defaultExistsTTL  = 5 * time.Minute
	defaultMissingTTL = 15 * time.Second
	defaultRefEntries = 50_000
)

// ReferenceCache memoizes whether student and class references resolve.
// Only existence flags are stored; no credential or secret ever enters it.
type ReferenceCache interface {
	Student(id string) (exists bool, hit bool)
	SetStudent(id string, exists bool)
	Class(id string) (exists bool, hit bool)
	SetClass(id string, exists bool)
	Purge()
}

type referenceCache struct {
	refs       Cache[string, bool]
	existsTTL  time.Duration
	missingTTL time.Duration
}

// NewReferenceCache returns a bounded cache for reference lookups. Missing
// references are remembered briefly so a freshly created student resolves soon.
func NewReferenceCache(opts ...Option) ReferenceCache {
	opts = append([]Option{WithMaxEntries(defaultRefEntries)}, opts...)
	return &referenceCache{
		refs:       NewTTLCache[string, bool](opts...),
		existsTTL:  defaultExistsTTL,
		missingTTL: defaultMissingTTL,
	}
}

func (c *referenceCache) Student(id string) (bool, bool) {
	return c.refs.Get(cacheKey("student", id))
}

func (c *referenceCache) SetStudent(id string, exists bool) {
	c.refs.Set(cacheKey("student", id), exists, c.ttl(exists))
}

func (c *referenceCache) Class(id string) (bool, bool) {
	return c.refs.Get(cacheKey("class", id))
}

func (c *referenceCache) SetClass(id string, exists bool) {
	c.refs.Set(cacheKey("class", id), exists, c.ttl(exists))
}

func (c *referenceCache) Purge() {
	c.refs.Purge()
}

func (c *referenceCache) ttl(exists bool) time.Duration {
	if exists {
		return c.existsTTL
	}
	return c.missingTTL
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}

// provideReferenceCache purges the cache whenever the payment policy reloads.
func provideReferenceCache(policy *config.PaymentPolicyHolder) ReferenceCache {
	c := NewReferenceCache()
	if policy != nil {
		policy.OnChange(func(config.PaymentPolicy) { c.Purge() })
	}
	return c
}

var Module = fx.Module("cache",
	fx.Provide(provideReferenceCache),
)
