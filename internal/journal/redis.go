package journal

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "pacer/pkg/logx"
)

const (
	defaultRedisPrefix = "pacer:journal"
	defaultRedisKeep   = 1000
)

// RedisStore keeps cumulative counters in hashes and the most recent
// records in a capped list:
//
//	<prefix>:outcome  HASH outcome -> count
//	<prefix>:host     HASH host -> count
//	<prefix>:recent   LIST JSON records, newest first
type RedisStore struct {
	rdb    *redis.Client
	log    logx.Logger
	prefix string
	keep   int64
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("journal.redis_addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedisStore(rdb, cfg.Redis.Prefix, cfg.Redis.Keep, log), nil
}

func NewRedisStore(rdb *redis.Client, prefix string, keep int64, log logx.Logger) *RedisStore {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if keep <= 0 {
		keep = defaultRedisKeep
	}
	return &RedisStore{rdb: rdb, log: log, prefix: prefix, keep: keep}
}

func (s *RedisStore) key(name string) string { return s.prefix + ":" + name }

func (s *RedisStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.rdb == nil {
		return ErrClosed
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.key("outcome"), r.Outcome, 1)
	pipe.HIncrBy(ctx, s.key("host"), r.Host, 1)
	pipe.LPush(ctx, s.key("recent"), b)
	pipe.LTrim(ctx, s.key("recent"), 0, s.keep-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Summary(ctx context.Context) (Summary, error) {
	out := newSummary()
	if s == nil || s.rdb == nil {
		return out, ErrClosed
	}
	pipe := s.rdb.Pipeline()
	outcomes := pipe.HGetAll(ctx, s.key("outcome"))
	hosts := pipe.HGetAll(ctx, s.key("host"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return out, err
	}
	fill(outcomes.Val(), out.ByOutcome)
	fill(hosts.Val(), out.ByHost)
	for _, n := range out.ByOutcome {
		out.Total += n
	}
	return out, nil
}

func fill(src map[string]string, dst map[string]int64) {
	for k, v := range src {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		dst[k] = n
	}
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
