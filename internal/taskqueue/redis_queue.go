package taskqueue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps task ids in a sorted set scored by NotBefore and the
// encoded tasks in a hash.
//
// Keys:
//
//	<prefix>queue  ZSET  task id -> not_before (unix nanos)
//	<prefix>tasks  HASH  task id -> gob-encoded Task
type RedisQueue struct {
	client       *redis.Client
	prefix       string
	pollInterval time.Duration
}

// NewRedisQueue creates a Redis-backed queue. prefix defaults to
// "docroute:".
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "docroute:"
	}
	return &RedisQueue{
		client:       client,
		prefix:       prefix,
		pollInterval: 20 * time.Millisecond,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) queueKey() string { return q.prefix + "queue" }
func (q *RedisQueue) tasksKey() string { return q.prefix + "tasks" }

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if err := prepare(&t, time.Now()); err != nil {
		return err
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.tasksKey(), t.ID, data)
		pipe.ZAdd(ctx, q.queueKey(), redis.Z{
			Score:  float64(t.NotBefore.UnixNano()),
			Member: t.ID,
		})
		return nil
	})
	return err
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		t, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim pops the first eligible task, or returns nil when none is due. A
// task id removed by a concurrent consumer is skipped.
func (q *RedisQueue) claim(ctx context.Context) (*Task, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.queueKey(), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(time.Now().UnixNano(), 10),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	id := ids[0]
	removed, err := q.client.ZRem(ctx, q.queueKey(), id).Result()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, nil
	}

	data, err := q.client.HGet(ctx, q.tasksKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := q.client.HDel(ctx, q.tasksKey(), id).Err(); err != nil {
		return nil, err
	}
	return DecodeTask(data)
}

func (q *RedisQueue) Len() int {
	n, err := q.client.ZCard(context.Background(), q.queueKey()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
