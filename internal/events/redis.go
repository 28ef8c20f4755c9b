package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue 基于 Redis 列表的队列，LPUSH 投递、BRPOP 消费，多实例共享
type RedisQueue struct {
	rdb         *redis.Client
	key         string
	pollTimeout time.Duration
}

// NewRedisQueue 创建 Redis 队列
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "nimo-ipd:risk-events"
	}
	return &RedisQueue{rdb: rdb, key: key, pollTimeout: 5 * time.Second}
}

func (q *RedisQueue) Publish(ctx context.Context, ev Event) error {
	if q == nil || q.rdb == nil {
		return fmt.Errorf("redis queue not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return q.rdb.LPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Consume(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		res, err := q.rdb.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return Event{}, ErrClosed
		}
		if err != nil {
			return Event{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		// res = [key, value]
		var ev Event
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			return Event{}, fmt.Errorf("decode event: %w", err)
		}
		return ev, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// DeadLetter 写入 <key>:dead 列表
func (q *RedisQueue) DeadLetter(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return q.rdb.LPush(ctx, q.deadKey(), raw).Err()
}

// DeadLetters 读取死信，最新的在前
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]Event, error) {
	raws, err := q.rdb.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", q.deadKey(), err)
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (q *RedisQueue) deadKey() string {
	return q.key + ":dead"
}

func (q *RedisQueue) Close() error {
	return nil
}
