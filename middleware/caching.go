package middleware

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/scttfrdmn/pipekit/adapter/llm"
)

// CachingConfig configures caching behavior.
type CachingConfig struct {
	// MaxCacheSize is the maximum number of entries in the cache.
	// Default: 1000
	MaxCacheSize int

	// DefaultTTL is the time-to-live for cache entries.
	// Default: 5 minutes
	DefaultTTL time.Duration
}

// Validate validates the caching configuration.
func (c *CachingConfig) Validate() error {
	if c.MaxCacheSize < 1 {
		return fmt.Errorf("max_cache_size must be at least 1, got %d", c.MaxCacheSize)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive, got %v", c.DefaultTTL)
	}
	return nil
}

type cacheEntry struct {
	key       string
	response  llm.Response
	expiresAt time.Time
}

// CachingLLM memoizes model responses by request.
//
// Entries are evicted least recently used first and expire after
// DefaultTTL. Failed calls are never cached.
type CachingLLM struct {
	llm    llm.LLM
	config CachingConfig

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	hits    int64
	misses  int64
}

// Verify that CachingLLM implements LLM interface.
var _ llm.LLM = (*CachingLLM)(nil)

// Cache wraps model with a response cache.
func Cache(model llm.LLM, config CachingConfig) (*CachingLLM, error) {
	if config.MaxCacheSize == 0 {
		config.MaxCacheSize = 1000
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &CachingLLM{
		llm:     model,
		config:  config,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}, nil
}

// Complete returns a cached response or calls the wrapped model.
func (c *CachingLLM) Complete(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	key, err := cacheKey(c.llm.Model(), messages, llm.BuildCallOptions(opts...))
	if err != nil {
		return c.llm.Complete(ctx, messages, opts...)
	}

	if resp, ok := c.get(key); ok {
		return resp, nil
	}

	resp, err := c.llm.Complete(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	c.put(key, *resp)
	return resp, nil
}

func (c *CachingLLM) get(key string) (*llm.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.hits++
	resp := entry.response
	return &resp, true
}

func (c *CachingLLM) put(key string, resp llm.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.response = resp
		entry.expiresAt = time.Now().Add(c.config.DefaultTTL)
		c.lru.MoveToFront(elem)
		return
	}
	for c.lru.Len() >= c.config.MaxCacheSize {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{
		key:       key,
		response:  resp,
		expiresAt: time.Now().Add(c.config.DefaultTTL),
	})
}

// Invalidate drops every entry.
func (c *CachingLLM) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// HitRate returns the fraction of calls served from the cache.
func (c *CachingLLM) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Len returns the number of cached entries.
func (c *CachingLLM) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Model returns the wrapped model identifier.
func (c *CachingLLM) Model() string {
	return c.llm.Model()
}

// Unwrap returns the wrapped LLM.
func (c *CachingLLM) Unwrap() interface{} {
	return c.llm
}

func cacheKey(model string, messages []llm.Message, opts *llm.CallOptions) (string, error) {
	payload := struct {
		Model       string
		Messages    []llm.Message
		Temperature *float64
		MaxTokens   *int
		TopP        *float64
		Schema      string
		Extra       map[string]interface{}
	}{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Schema:      opts.SchemaName,
		Extra:       opts.Extra,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
