// Package schedulerstore implements contracts.SchedulerStore: the durable,
// fingerprint-deduplicated FIFO queue of pending requests that sits between
// RequestAdmission and the dispatcher.
package schedulerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/model"
)

// enqueueScript atomically checks the queued-set membership and only
// appends to the FIFO list when the hash is new, so a duplicate hash is
// silently dropped rather than appended twice.
const enqueueScript = `
local added = redis.call('SADD', KEYS[1], ARGV[1])
if added == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[2])
end
return added
`

// RedisStore is a per-owner (spider) queue: a Redis list holds the FIFO
// order of pending requests, a parallel set holds the hashes currently
// queued so Enqueue can reject duplicates in O(1).
type RedisStore struct {
	client *redis.Client

	enqueueSHA string
}

// NewRedisStore dials addr and preloads the enqueue Lua script, mirroring
// FluxForge's redis.go script-preload idiom (avoid sending script text on
// every call).
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("schedulerstore: ping redis: %w", err)
	}

	sha, err := client.ScriptLoad(ctx, enqueueScript).Result()
	if err != nil {
		return nil, fmt.Errorf("schedulerstore: preload enqueue script: %w", err)
	}

	return &RedisStore{client: client, enqueueSHA: sha}, nil
}

func queuedSetKey(owner string) string { return "spidercore:queue:" + owner + ":hashes" }
func queueListKey(owner string) string { return "spidercore:queue:" + owner + ":list" }

// Enqueue implements contracts.SchedulerStore: admits reqs in order,
// silently dropping any whose hash is already queued.
func (s *RedisStore) Enqueue(ctx context.Context, owner string, reqs []*model.Request) (int, error) {
	setKey := queuedSetKey(owner)
	listKey := queueListKey(owner)

	accepted := 0
	for _, req := range reqs {
		payload, err := json.Marshal(req)
		if err != nil {
			return accepted, fmt.Errorf("schedulerstore: marshal request %q: %w", req.Hash, err)
		}

		res, err := s.client.EvalSha(ctx, s.enqueueSHA, []string{setKey, listKey}, req.Hash, payload).Result()
		if err != nil {
			return accepted, fmt.Errorf("schedulerstore: enqueue %q: %w", req.Hash, err)
		}
		if n, ok := res.(int64); ok && n == 1 {
			accepted++
		}
	}
	return accepted, nil
}

// Dequeue implements contracts.SchedulerStore: pops up to n requests in
// FIFO order and releases their hashes from the queued set, so the same
// hash can be re-admitted once it has left the queue.
func (s *RedisStore) Dequeue(ctx context.Context, owner string, n int) ([]*model.Request, error) {
	if n <= 0 {
		return nil, nil
	}

	raws, err := s.client.LPopCount(ctx, queueListKey(owner), n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedulerstore: dequeue: %w", err)
	}

	reqs := make([]*model.Request, 0, len(raws))
	hashes := make([]string, 0, len(raws))
	for _, raw := range raws {
		var req model.Request
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			continue
		}
		reqs = append(reqs, &req)
		hashes = append(hashes, req.Hash)
	}

	if len(hashes) > 0 {
		members := make([]interface{}, len(hashes))
		for i, h := range hashes {
			members[i] = h
		}
		if err := s.client.SRem(ctx, queuedSetKey(owner), members...).Err(); err != nil {
			return reqs, fmt.Errorf("schedulerstore: release dequeued hashes: %w", err)
		}
	}

	return reqs, nil
}

// Total implements contracts.SchedulerStore.
func (s *RedisStore) Total(ctx context.Context, owner string) (int, error) {
	n, err := s.client.LLen(ctx, queueListKey(owner)).Result()
	if err != nil {
		return 0, fmt.Errorf("schedulerstore: total: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping implements health.Pinger by adapting redis.Client's *StatusCmd
// return into a plain error.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ contracts.SchedulerStore = (*RedisStore)(nil)
