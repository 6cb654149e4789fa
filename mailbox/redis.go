package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rajashekarcs2023/weather-marketplace/internal/cache"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

const maxTxAttempts = 16

// RedisMailbox keeps cells in Redis so that several client replicas can share
// one mailbox. Each cell is a JSON string with a TTL; sorted sets index the
// cells still waiting (by deadline), the delivered replies (by arrival) and
// the subset of those TakeNext may serve.
// Cell updates run in WATCH transactions so a reply is read at most once.
type RedisMailbox struct {
	cache  *cache.Manager
	prefix string
	config Config
	now    func() time.Time
}

// NewRedisMailbox creates a mailbox under prefix.
func NewRedisMailbox(cm *cache.Manager, prefix string, config Config) *RedisMailbox {
	if prefix == "" {
		prefix = "weather:mailbox:"
	}
	return &RedisMailbox{cache: cm, prefix: prefix, config: config, now: time.Now}
}

func (m *RedisMailbox) cellKey(id string) string {
	return m.prefix + "cell:" + id
}

func (m *RedisMailbox) goneKey(id string) string {
	return m.prefix + "gone:" + id
}

func (m *RedisMailbox) waitingKey() string {
	return m.prefix + "waiting"
}

func (m *RedisMailbox) readyKey() string {
	return m.prefix + "ready"
}

func (m *RedisMailbox) unreadKey() string {
	return m.prefix + "unread"
}

func (m *RedisMailbox) seqKey() string {
	return m.prefix + "seq"
}

func (m *RedisMailbox) Reserve(ctx context.Context, requestID string, ttl time.Duration) error {
	if requestID == "" {
		return ErrEmptyKey
	}
	c := &cell{Reserved: true, Deadline: m.now().Add(ttl)}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	key := m.cellKey(requestID)
	return m.txn(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl+m.config.Retention)
			pipe.ZAdd(ctx, m.waitingKey(), redis.Z{Score: float64(c.Deadline.UnixMilli()), Member: requestID})
			pipe.Del(ctx, m.goneKey(requestID))
			return nil
		})
		return err
	}, key)
}

func (m *RedisMailbox) Release(ctx context.Context, requestID string) error {
	key := m.cellKey(requestID)
	return m.txn(ctx, func(tx *redis.Tx) error {
		c, err := m.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if !c.Reserved {
			return ErrNotFound
		}
		return m.consume(ctx, tx, requestID, c)
	}, key)
}

func (m *RedisMailbox) Deliver(ctx context.Context, key string, payload types.Payload) (Outcome, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	seq, err := m.cache.Client().Incr(ctx, m.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("mailbox: next sequence: %w", err)
	}

	ck, gk := m.cellKey(key), m.goneKey(key)
	var outcome Outcome
	err = m.txn(ctx, func(tx *redis.Tx) error {
		gone, err := tx.Exists(ctx, gk).Result()
		if err != nil {
			return err
		}
		if gone > 0 {
			outcome = OutcomeLate
			return nil
		}

		now := m.now()
		c, err := m.load(ctx, tx, ck)
		switch {
		case errors.Is(err, ErrNotFound):
			// The cell may have outlived its TTL while still indexed as waiting.
			err = tx.ZScore(ctx, m.waitingKey(), key).Err()
			if err == nil {
				outcome = OutcomeLate
				return nil
			}
			if !errors.Is(err, redis.Nil) {
				return err
			}
			c = &cell{Delivered: true, Payload: payload, DeliveredAt: now}
			outcome = OutcomeUnsolicited
		case err != nil:
			return err
		default:
			outcome = c.deliver(payload, now)
		}
		if outcome != OutcomeClaimed && outcome != OutcomeUnsolicited {
			return nil
		}

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, ck, data, m.config.Retention)
			pipe.ZRem(ctx, m.waitingKey(), key)
			pipe.ZAdd(ctx, m.readyKey(), redis.Z{Score: float64(seq), Member: key})
			if !c.Superseded {
				pipe.ZAdd(ctx, m.unreadKey(), redis.Z{Score: float64(seq), Member: key})
			}
			return nil
		})
		return err
	}, ck, gk)
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (m *RedisMailbox) Take(ctx context.Context, requestID string) (*Result, error) {
	key := m.cellKey(requestID)
	var result *Result
	err := m.txn(ctx, func(tx *redis.Tx) error {
		c, err := m.load(ctx, tx, key)
		if err != nil {
			return err
		}
		now := m.now()
		switch {
		case c.Delivered:
			result = &Result{RequestID: requestID, Status: StatusReady, Payload: c.Payload}
		case c.expired(now):
			result = &Result{RequestID: requestID, Status: StatusExpired}
		default:
			result = &Result{RequestID: requestID, Status: StatusWaiting}
			return nil
		}
		return m.consume(ctx, tx, requestID, c)
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *RedisMailbox) TakeNext(ctx context.Context) (*Result, error) {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		ids, err := m.cache.Client().ZRange(ctx, m.unreadKey(), 0, 0).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return &Result{Status: StatusWaiting}, nil
		}

		id := ids[0]
		key := m.cellKey(id)
		var result *Result
		err = m.txn(ctx, func(tx *redis.Tx) error {
			c, err := m.load(ctx, tx, key)
			if errors.Is(err, ErrNotFound) {
				// The cell outlived its retention; drop the stale index entry.
				return tx.ZRem(ctx, m.unreadKey(), id).Err()
			}
			if err != nil {
				return err
			}
			if !c.Delivered {
				return tx.ZRem(ctx, m.unreadKey(), id).Err()
			}
			result = &Result{RequestID: id, Status: StatusReady, Payload: c.Payload}
			return m.consume(ctx, tx, id, c)
		}, key)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, fmt.Errorf("mailbox: ready queue contended")
}

func (m *RedisMailbox) ClearUnread(ctx context.Context) (int, error) {
	rdb := m.cache.Client()
	unread, err := rdb.ZRange(ctx, m.unreadKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	waiting, err := rdb.ZRange(ctx, m.waitingKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range unread {
		dropped, err := m.supersede(ctx, id)
		if err != nil {
			return n, err
		}
		if dropped {
			n++
		}
	}
	for _, id := range waiting {
		if _, err := m.supersede(ctx, id); err != nil {
			return n, err
		}
	}
	return n, nil
}

// supersede hides one cell from TakeNext. It reports whether the cell held an
// unread reply.
func (m *RedisMailbox) supersede(ctx context.Context, id string) (bool, error) {
	key := m.cellKey(id)
	var dropped bool
	err := m.txn(ctx, func(tx *redis.Tx) error {
		dropped = false
		c, err := m.load(ctx, tx, key)
		if errors.Is(err, ErrNotFound) {
			return tx.ZRem(ctx, m.unreadKey(), id).Err()
		}
		if err != nil {
			return err
		}
		dropped = c.Delivered && !c.Superseded
		if !c.Reserved {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, m.readyKey(), id)
				pipe.ZRem(ctx, m.unreadKey(), id)
				return nil
			})
			return err
		}
		if c.Superseded {
			return tx.ZRem(ctx, m.unreadKey(), id).Err()
		}
		c.Superseded = true
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			pipe.ZRem(ctx, m.unreadKey(), id)
			return nil
		})
		return err
	}, key)
	return dropped, err
}

func (m *RedisMailbox) Purge(ctx context.Context) (int, error) {
	rdb := m.cache.Client()
	cutoff := m.now().Add(-m.config.Retention).UnixMilli()

	stale, err := rdb.ZRangeByScore(ctx, m.waitingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range stale {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, m.cellKey(id))
			pipe.ZRem(ctx, m.waitingKey(), id)
			pipe.ZRem(ctx, m.readyKey(), id)
			pipe.ZRem(ctx, m.unreadKey(), id)
			pipe.Set(ctx, m.goneKey(id), "1", m.config.Retention)
			return nil
		})
		if err != nil {
			return n, err
		}
		n++
	}

	ready, err := rdb.ZRange(ctx, m.readyKey(), 0, -1).Result()
	if err != nil {
		return n, err
	}
	for _, id := range ready {
		exists, err := rdb.Exists(ctx, m.cellKey(id)).Result()
		if err != nil {
			return n, err
		}
		if exists == 0 {
			_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, m.readyKey(), id)
				pipe.ZRem(ctx, m.unreadKey(), id)
				return nil
			})
			if err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (m *RedisMailbox) Stats(ctx context.Context) (Stats, error) {
	now := strconv.FormatInt(m.now().UnixMilli(), 10)
	var waiting, expired, ready *redis.IntCmd
	_, err := m.cache.Client().Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCount(ctx, m.waitingKey(), "("+now, "+inf")
		expired = pipe.ZCount(ctx, m.waitingKey(), "-inf", now)
		ready = pipe.ZCard(ctx, m.readyKey())
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Waiting: int(waiting.Val()),
		Ready:   int(ready.Val()),
		Expired: int(expired.Val()),
	}, nil
}

// Close is a no-op; the redis connection belongs to the cache manager.
func (m *RedisMailbox) Close() error {
	return nil
}

// load reads a cell, mapping a missing key to ErrNotFound.
func (m *RedisMailbox) load(ctx context.Context, tx *redis.Tx, key string) (*cell, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c cell
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("mailbox: decode cell: %w", err)
	}
	return &c, nil
}

// consume deletes a cell inside tx and remembers reserved IDs so a late reply
// is dropped.
func (m *RedisMailbox) consume(ctx context.Context, tx *redis.Tx, id string, c *cell) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.cellKey(id))
		pipe.ZRem(ctx, m.waitingKey(), id)
		pipe.ZRem(ctx, m.readyKey(), id)
		pipe.ZRem(ctx, m.unreadKey(), id)
		if c.Reserved {
			pipe.Set(ctx, m.goneKey(id), "1", m.config.Retention)
		}
		return nil
	})
	return err
}

// txn runs fn in a WATCH transaction on keys, retrying when another client
// changed a watched key first.
func (m *RedisMailbox) txn(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := m.cache.Client().Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("mailbox: transaction on %v contended", keys)
}

var _ Mailbox = (*RedisMailbox)(nil)
