package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"localqueue/internal/domain"
)

const redisMaxTxRetries = 100

// RedisStore keeps each record as a JSON string and indexes ids in a sorted
// set scored by creation time (microseconds). Index members are
// "<zero-padded insertion seq>:<id>", so records created in the same
// microsecond sort by insertion order. Updates are optimistic WATCH/MULTI
// transactions retried on contention.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "localqueue:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) taskKey(id string) string { return s.prefix + "task:" + id }
func (s *RedisStore) indexKey() string         { return s.prefix + "tasks" }
func (s *RedisStore) seqKey() string           { return s.prefix + "seq" }

func indexMember(seq int64, id string) string { return fmt.Sprintf("%020d:%s", seq, id) }

func memberID(member string) string {
	if i := strings.IndexByte(member, ':'); i >= 0 {
		return member[i+1:]
	}
	return member
}

func (s *RedisStore) Create(ctx context.Context, rec domain.TaskRecord) error {
	if rec.Parameters == nil {
		rec.Parameters = map[string]any{}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	key := s.taskKey(rec.ID)
	score := float64(rec.CreatedAt.UnixMicro())
	seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return err
	}
	member := indexMember(seq, rec.ID)

	return s.withRetry(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return duplicate(rec.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: member})
			return nil
		})
		return err
	})
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.TaskRecord, error) {
	raw, err := s.rdb.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TaskRecord{}, notFound(id)
	}
	if err != nil {
		return domain.TaskRecord{}, err
	}
	return decodeRecord(raw)
}

func (s *RedisStore) List(ctx context.Context, f domain.Filter) ([]domain.TaskRecord, error) {
	members, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = memberID(m)
	}
	out := []domain.TaskRecord{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(str))
		if err != nil {
			return nil, err
		}
		if !f.Match(rec) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, p domain.Patch) (domain.TaskRecord, error) {
	key := s.taskKey(id)
	var out domain.TaskRecord
	err := s.withRetry(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if err := p.Apply(&rec); err != nil {
			return err
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	})
	if err != nil {
		return domain.TaskRecord{}, err
	}
	return out, nil
}

func (s *RedisStore) withRetry(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < redisMaxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction on %s: too much contention", key)
}

func decodeRecord(raw []byte) (domain.TaskRecord, error) {
	var rec domain.TaskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.TaskRecord{}, fmt.Errorf("decode task: %w", err)
	}
	return rec, nil
}
