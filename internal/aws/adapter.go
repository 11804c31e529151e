// Package aws provides the AWS SDK v2 adapter layer with rate limiting,
// response caching, and structured logging. It implements the identity
// and cloud-trail collaborator interfaces consumed by the role manager
// and the audit log.
package aws

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
)

// SessionCredentials holds the credential material needed to create AWS
// clients. Populated from the vault (agent profile) or the developer's
// ambient environment (user profile), never both at once.
type SessionCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// ClientFactory creates rate-limited AWS service clients.
type ClientFactory struct {
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	cache       *ResponseCache
}

// NewClientFactory creates a new AWS client factory.
func NewClientFactory(logger zerolog.Logger) *ClientFactory {
	return &ClientFactory{
		rateLimiter: NewRateLimiter(10),
		logger:      logger,
		cache:       NewResponseCache(5 * time.Minute),
	}
}

// NewClientFactoryWithRate creates a factory with a custom rate limit and
// cache TTL.
func NewClientFactoryWithRate(logger zerolog.Logger, ratePerSec int, cacheTTL time.Duration) *ClientFactory {
	return &ClientFactory{
		rateLimiter: NewRateLimiter(ratePerSec),
		logger:      logger,
		cache:       NewResponseCache(cacheTTL),
	}
}

func (f *ClientFactory) awsConfig(creds SessionCredentials) aws.Config {
	return aws.Config{
		Region: creds.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		),
		RetryMaxAttempts: 5,
	}
}

// Cache returns the response cache for manual invalidation.
func (f *ClientFactory) Cache() *ResponseCache { return f.cache }

// Wait blocks until the rate limit allows a call to the named service.
func (f *ClientFactory) Wait(service string) {
	f.rateLimiter.Wait(service)
}

// --- Service client factories ---

func (f *ClientFactory) STSClient(creds SessionCredentials) *sts.Client {
	return sts.NewFromConfig(f.awsConfig(creds))
}

func (f *ClientFactory) IAMClient(creds SessionCredentials) *iam.Client {
	return iam.NewFromConfig(f.awsConfig(creds))
}

func (f *ClientFactory) CloudTrailClient(creds SessionCredentials) *cloudtrail.Client {
	return cloudtrail.NewFromConfig(f.awsConfig(creds))
}

// --- Rate Limiter ---

// RateLimiter spaces calls per service to stay under provider throttles.
type RateLimiter struct {
	mu         sync.Mutex
	ratePerSec int
	lastCall   map[string]time.Time
}

func NewRateLimiter(ratePerSec int) *RateLimiter {
	return &RateLimiter{
		ratePerSec: ratePerSec,
		lastCall:   make(map[string]time.Time),
	}
}

func (rl *RateLimiter) Wait(service string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	minInterval := time.Second / time.Duration(rl.ratePerSec)
	last, ok := rl.lastCall[service]
	if ok {
		elapsed := time.Since(last)
		if elapsed < minInterval {
			time.Sleep(minInterval - elapsed)
		}
	}
	rl.lastCall[service] = time.Now()
}

// --- Response Cache ---

type cacheEntry struct {
	data      any
	expiresAt time.Time
}

// ResponseCache provides in-memory TTL caching for read-only AWS
// responses such as role listings.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get retrieves a cached value. Returns nil and false if not found or
// expired.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

// Put stores a value in the cache.
func (c *ResponseCache) Put(key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{data: data, expiresAt: time.Now().Add(c.ttl)}
}

// Clear removes all entries, optionally filtering by key prefix.
func (c *ResponseCache) Clear(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	if prefix == "" {
		count = len(c.entries)
		c.entries = make(map[string]*cacheEntry)
	} else {
		for k := range c.entries {
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				delete(c.entries, k)
				count++
			}
		}
	}
	return count
}
