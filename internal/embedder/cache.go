package embedder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheSize is the in-memory cache capacity used when none is configured
const DefaultCacheSize = 10000

// Cache stores embeddings by a key derived from provider, model and text.
// Implementations must be safe for concurrent use. A failed lookup is a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*Embedding, bool)
	Set(ctx context.Context, key string, emb *Embedding)
}

// MemoryCache provides in-process LRU caching of embeddings
type MemoryCache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewMemoryCache creates a new embedding cache with LRU eviction
func NewMemoryCache(maxLen int) *MemoryCache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](DefaultCacheSize)
	}
	return &MemoryCache{cache: cache}
}

// Get returns a copy of the cached embedding so callers cannot mutate the cached vector
func (c *MemoryCache) Get(_ context.Context, key string) (*Embedding, bool) {
	emb, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return copyEmbedding(emb), true
}

// Set stores an embedding; eviction is handled by the LRU
func (c *MemoryCache) Set(_ context.Context, key string, emb *Embedding) {
	c.cache.Add(key, copyEmbedding(emb))
}

// Size returns the current cache size
func (c *MemoryCache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *MemoryCache) Clear() {
	c.cache.Purge()
}

func copyEmbedding(emb *Embedding) *Embedding {
	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)
	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}
}

const redisKeyPrefix = "reporag:embedding:"

// RedisCache shares embeddings between processes through Redis.
// Vectors are stored as little-endian float32 bytes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis instance at url (redis://host:port/db)
// and verifies the connection. A zero ttl keeps entries until evicted.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get fetches a vector; any Redis error, including a missing key, is a miss
func (c *RedisCache) Get(ctx context.Context, key string) (*Embedding, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil || len(data)%4 != 0 {
		return nil, false
	}

	vector := decodeVector(data)
	return &Embedding{Vector: vector, Dimension: len(vector)}, true
}

// Set writes a vector; errors are ignored since the cache is best effort
func (c *RedisCache) Set(ctx context.Context, key string, emb *Embedding) {
	_ = c.client.Set(ctx, redisKeyPrefix+key, encodeVector(emb.Vector), c.ttl).Err()
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
