package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rajashekarcs2023/weather-marketplace/internal/cache"
)

const maxWatchAttempts = 8

// RedisStore keeps each record as JSON under <prefix>agent:<address>, the set
// of known addresses under <prefix>agents and the owner of each endpoint under
// <prefix>url:<url>.
type RedisStore struct {
	cache  *cache.Manager
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix uses "weather:directory:".
func NewRedisStore(m *cache.Manager, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "weather:directory:"
	}
	return &RedisStore{cache: m, prefix: prefix}
}

func (s *RedisStore) recordKey(address string) string {
	return s.prefix + "agent:" + address
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "agents"
}

func (s *RedisStore) urlKey(url string) string {
	return s.prefix + "url:" + url
}

func (s *RedisStore) Save(ctx context.Context, rec *AgentRecord) error {
	if rec == nil || rec.Address == "" {
		return fmt.Errorf("invalid agent record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}

	rk, uk := s.recordKey(rec.Address), s.urlKey(rec.URL)
	return s.watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, uk).Result()
		switch {
		case err == nil && owner != rec.Address:
			return ErrEndpointTaken
		case err != nil && !errors.Is(err, redis.Nil):
			return fmt.Errorf("read endpoint owner: %w", err)
		}
		prev, err := s.read(ctx, tx, rk)
		if err != nil && !errors.Is(err, ErrAgentNotFound) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, 0)
			pipe.SAdd(ctx, s.indexKey(), rec.Address)
			pipe.Set(ctx, uk, rec.Address, 0)
			if prev != nil && prev.URL != rec.URL {
				pipe.Del(ctx, s.urlKey(prev.URL))
			}
			return nil
		})
		return err
	}, rk, uk)
}

func (s *RedisStore) Load(ctx context.Context, address string) (*AgentRecord, error) {
	var rec AgentRecord
	err := s.cache.GetJSON(ctx, s.recordKey(address), &rec)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, address)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) LoadAll(ctx context.Context) ([]*AgentRecord, error) {
	addrs, err := s.cache.Client().SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	result := make([]*AgentRecord, 0, len(addrs))
	for _, addr := range addrs {
		rec, err := s.Load(ctx, addr)
		if errors.Is(err, ErrAgentNotFound) {
			// Index entry outlived its record; drop it.
			s.cache.Client().SRem(ctx, s.indexKey(), addr)
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	sortByRegistration(result)
	return result, nil
}

func (s *RedisStore) Delete(ctx context.Context, address string) error {
	rk := s.recordKey(address)
	return s.watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, rk)
		if errors.Is(err, ErrAgentNotFound) {
			if err := tx.SRem(ctx, s.indexKey(), address).Err(); err != nil {
				return fmt.Errorf("delete agent: %w", err)
			}
			return fmt.Errorf("%w: %s", ErrAgentNotFound, address)
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, s.indexKey(), address)
			pipe.Del(ctx, rk)
			pipe.Del(ctx, s.urlKey(rec.URL))
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
		return nil
	}, rk)
}

// read loads a record inside tx.
func (s *RedisStore) read(ctx context.Context, tx *redis.Tx, key string) (*AgentRecord, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	var rec AgentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	return &rec, nil
}

// watch runs fn in a WATCH transaction on keys, retrying when another replica
// changed a watched key first.
func (s *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err := s.cache.Client().Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("directory: transaction on %v contended", keys)
}

var _ Store = (*RedisStore)(nil)
