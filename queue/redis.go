package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const promoteBatch = 100

// promoteScript moves due jobs from the delayed set to the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, job in ipairs(due) do
	redis.call('ZREM', KEYS[1], job)
	redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

// RedisQueue is a shared FIFO on a Redis list. Delayed jobs wait in a sorted
// set scored by their due time and are promoted by consumers.
type RedisQueue struct {
	client      redis.UniversalClient
	readyKey    string
	delayedKey  string
	pollTimeout time.Duration
	now         func() time.Time
}

func NewRedisQueue(client redis.UniversalClient, prefix string, pollTimeout time.Duration) *RedisQueue {
	if pollTimeout < time.Second {
		pollTimeout = time.Second
	}
	return &RedisQueue{
		client:      client,
		readyKey:    prefix + ":queue:ready",
		delayedKey:  prefix + ":queue:delayed",
		pollTimeout: pollTimeout,
		now:         time.Now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "RedisQueue.Enqueue")
	}

	if delay <= 0 {
		err = q.client.LPush(ctx, q.readyKey, raw).Err()
	} else {
		due := q.now().Add(delay).UnixMilli()
		err = q.client.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: raw}).Err()
	}
	return errors.Wrap(err, "RedisQueue.Enqueue")
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	err := promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.readyKey}, now, promoteBatch).Err()
	if err != nil {
		return nil, errors.Wrap(err, "RedisQueue.Dequeue: promote")
	}

	res, err := q.client.BRPop(ctx, q.pollTimeout, q.readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "RedisQueue.Dequeue")
	}

	// res is [key, value]
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, errors.Wrap(err, "RedisQueue.Dequeue: decode")
	}
	return &job, nil
}

// Len returns the number of ready and delayed jobs.
func (q *RedisQueue) Len(ctx context.Context) (ready, delayed int64, err error) {
	ready, err = q.client.LLen(ctx, q.readyKey).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "RedisQueue.Len")
	}
	delayed, err = q.client.ZCard(ctx, q.delayedKey).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "RedisQueue.Len")
	}
	return ready, delayed, nil
}
