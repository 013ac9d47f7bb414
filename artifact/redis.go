package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scttfrdmn/pipekit/pipeline"
)

const defaultRedisPrefix = "pipekit:artifact"

// RedisStore keeps artifacts as redis strings under
// "<prefix>:<yymmdd_HHMMSS>_<name>" and returns URIs of the form
// "redis://<key>".
//
// Keys are written with SET NX; a collision within the same second adds a
// numeric suffix the way FileStore does.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Verify that RedisStore implements Store interface.
var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL, e.g. "redis://localhost:6379/0".
func NewRedisStore(redisURL, prefix string, ttl time.Duration) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis artifact backend requires a URL")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), prefix, ttl), nil
}

// NewRedisStoreWithClient uses an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// Store implements pipeline.ArtifactSink.
func (s *RedisStore) Store(ctx context.Context, name string, content []byte) (pipeline.ArtifactRef, error) {
	name, err := cleanName(name)
	if err != nil {
		return pipeline.ArtifactRef{}, err
	}
	stamp := s.now().Format(TimestampLayout)

	for n := 1; n <= maxCollisions; n++ {
		key := fmt.Sprintf("%s:%s_%s", s.prefix, stamp, name)
		if n > 1 {
			key = fmt.Sprintf("%s:%s_%s_%d", s.prefix, stamp, name, n)
		}
		ok, err := s.client.SetNX(ctx, key, content, s.ttl).Result()
		if err != nil {
			return pipeline.ArtifactRef{}, fmt.Errorf("failed to store artifact: %w", err)
		}
		if ok {
			return pipeline.ArtifactRef{Name: name, URI: "redis://" + key, Size: int64(len(content))}, nil
		}
	}
	return pipeline.ArtifactRef{}, fmt.Errorf("too many artifacts named %q at %s", name, stamp)
}

// Load fetches the artifact named by a redis:// URI.
func (s *RedisStore) Load(ctx context.Context, ref pipeline.ArtifactRef) ([]byte, error) {
	key, ok := strings.CutPrefix(ref.URI, "redis://")
	if !ok {
		return nil, fmt.Errorf("not a redis artifact: %q", ref.URI)
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", ref.URI, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}
	return data, nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
