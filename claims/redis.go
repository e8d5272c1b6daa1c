package claims

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Each namespace is a sorted set scored by expiry in unix milliseconds, or
// +inf for claims without a TTL. Expired members are evicted lazily.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. now)
if redis.call('ZSCORE', KEYS[1], ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
return 1
`)

type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisRegistry keys namespaces as "<prefix>:<namespace>". A zero ttl
// keeps claims until they are released.
func NewRedisRegistry(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (r *RedisRegistry) key(ns Namespace) string {
	if r.prefix == "" {
		return string(ns)
	}
	return r.prefix + ":" + string(ns)
}

func (r *RedisRegistry) nowMillis() int64 {
	return r.now().UnixMilli()
}

func (r *RedisRegistry) Claim(ctx context.Context, ns Namespace, key string) (bool, error) {
	now := r.nowMillis()
	expiry := "+inf"
	if r.ttl > 0 {
		expiry = strconv.FormatInt(now+r.ttl.Milliseconds(), 10)
	}

	res, err := claimScript.Run(ctx, r.client, []string{r.key(ns)}, now, key, expiry).Int()
	if err != nil {
		return false, errors.Wrap(err, "RedisRegistry.Claim")
	}
	return res == 1, nil
}

func (r *RedisRegistry) Release(ctx context.Context, ns Namespace, key string) error {
	if err := r.client.ZRem(ctx, r.key(ns), key).Err(); err != nil {
		return errors.Wrap(err, "RedisRegistry.Release")
	}
	return nil
}

func (r *RedisRegistry) IsClaimed(ctx context.Context, ns Namespace, key string) (bool, error) {
	score, err := r.client.ZScore(ctx, r.key(ns), key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "RedisRegistry.IsClaimed")
	}
	return score >= float64(r.nowMillis()), nil
}

func (r *RedisRegistry) Members(ctx context.Context, ns Namespace) ([]string, error) {
	members, err := r.client.ZRangeByScore(ctx, r.key(ns), &redis.ZRangeBy{
		Min: strconv.FormatInt(r.nowMillis(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "RedisRegistry.Members")
	}
	return members, nil
}
