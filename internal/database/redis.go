package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
)

const (
	comicKeyPrefix = "comic:"
	// recencyKey is a sorted set of dates scored by last use in unix microseconds.
	recencyKey = "comic:last_used"
	latestKey  = "latest-date"

	oldestBatch = 16
)

// RedisRepo implements domain.CacheRepo on redis. Comics are JSON strings and
// recency lives in a sorted set so eviction can find the oldest entry.
type RedisRepo struct {
	log     zerolog.Logger
	client  *redis.Client
	timeout time.Duration
}

func NewRedisRepo(ctx context.Context, cfg domain.StoreConfig, log zerolog.Logger) (*RedisRepo, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}

	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.Timeout
	opts.DialTimeout = cfg.Timeout
	opts.ReadTimeout = cfg.Timeout
	opts.WriteTimeout = cfg.Timeout

	r := NewRedisRepoFromClient(redis.NewClient(opts), cfg.Timeout, log)
	if err := r.Ping(ctx); err != nil {
		r.client.Close()
		return nil, err
	}

	return r, nil
}

func NewRedisRepoFromClient(client *redis.Client, timeout time.Duration, log zerolog.Logger) *RedisRepo {
	return &RedisRepo{
		log:     log.With().Str("repo", "cache").Str("backend", "redis").Logger(),
		client:  client,
		timeout: timeout,
	}
}

func comicKey(date time.Time) string {
	return comicKeyPrefix + domain.FormatDate(date)
}

func (r *RedisRepo) Get(ctx context.Context, date time.Time) (*domain.Comic, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.log.Trace().Str("key", comicKey(date)).Msg("Get")

	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, comicKey(date))
	scoreCmd := pipe.ZScore(ctx, recencyKey, domain.FormatDate(date))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeError(err, "error executing pipeline")
	}

	data, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		if scoreCmd.Err() == nil {
			r.prune(ctx, domain.FormatDate(date))
		}
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, storeError(err, "error reading comic")
	}

	var comic domain.Comic
	if err := json.Unmarshal(data, &comic); err != nil {
		return nil, errors.Wrapf(err, "corrupt cache entry %s", comicKey(date))
	}

	if score, err := scoreCmd.Result(); err == nil {
		comic.LastUsed = time.UnixMicro(int64(score)).UTC()
	}

	return &comic, nil
}

func (r *RedisRepo) Upsert(ctx context.Context, comic *domain.Comic) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := json.Marshal(comic)
	if err != nil {
		return errors.Wrap(err, "failed to marshal comic")
	}

	r.log.Trace().Str("key", comicKey(comic.Date)).Msg("Upsert")

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, comicKey(comic.Date), data, 0)
		pipe.ZAdd(ctx, recencyKey, redis.Z{
			Score:  float64(comic.LastUsed.UnixMicro()),
			Member: domain.FormatDate(comic.Date),
		})
		return nil
	})
	if err != nil {
		return storeError(err, "error executing transaction")
	}

	return nil
}

func (r *RedisRepo) Touch(ctx context.Context, date time.Time, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.log.Trace().Str("key", comicKey(date)).Msg("Touch")

	err := r.client.ZAddXX(ctx, recencyKey, redis.Z{
		Score:  float64(at.UnixMicro()),
		Member: domain.FormatDate(date),
	}).Err()
	if err != nil {
		return storeError(err, "error updating recency")
	}

	return nil
}

func (r *RedisRepo) Delete(ctx context.Context, date time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.log.Trace().Str("key", comicKey(date)).Msg("Delete")

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, comicKey(date))
		pipe.ZRem(ctx, recencyKey, domain.FormatDate(date))
		return nil
	})
	if err != nil {
		return storeError(err, "error executing transaction")
	}

	return nil
}

// Count reports the recency set size. Members whose value key redis evicted
// on its own are included until Get or OldestDate prunes them.
func (r *RedisRepo) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.ZCard(ctx, recencyKey).Result()
	if err != nil {
		return 0, storeError(err, "error counting comics")
	}

	return int(n), nil
}

// OldestDate relies on redis ordering equal scores by member, which for
// YYYY-MM-DD members is chronological. Members whose value key is gone are
// pruned on the way.
func (r *RedisRepo) OldestDate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for {
		members, err := r.client.ZRange(ctx, recencyKey, 0, oldestBatch-1).Result()
		if err != nil {
			return time.Time{}, storeError(err, "error reading recency")
		}
		if len(members) == 0 {
			return time.Time{}, domain.ErrCacheMiss
		}

		pipe := r.client.Pipeline()
		exists := make([]*redis.IntCmd, len(members))
		for i, member := range members {
			exists[i] = pipe.Exists(ctx, comicKeyPrefix+member)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return time.Time{}, storeError(err, "error checking comic keys")
		}

		for i, member := range members {
			if exists[i].Val() > 0 {
				return domain.ParseDate(member)
			}
			r.prune(ctx, member)
		}
	}
}

// prune drops a recency member whose comic key redis has evicted.
func (r *RedisRepo) prune(ctx context.Context, member string) {
	r.log.Debug().Str("member", member).Msg("pruning evicted comic from recency set")

	if err := r.client.ZRem(ctx, recencyKey, member).Err(); err != nil {
		r.log.Warn().Err(err).Str("member", member).Msg("failed to prune recency member")
	}
}

func (r *RedisRepo) GetLatest(ctx context.Context) (*domain.LatestDate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.client.Get(ctx, latestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, storeError(err, "error reading latest date")
	}

	var latest domain.LatestDate
	if err := json.Unmarshal(data, &latest); err != nil {
		return nil, errors.Wrap(err, "corrupt latest date")
	}

	return &latest, nil
}

func (r *RedisRepo) StoreLatest(ctx context.Context, latest *domain.LatestDate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := json.Marshal(latest)
	if err != nil {
		return errors.Wrap(err, "failed to marshal latest date")
	}

	if err := r.client.Set(ctx, latestKey, data, 0).Err(); err != nil {
		return storeError(err, "error storing latest date")
	}

	return nil
}

func (r *RedisRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return storeError(err, "failed to ping redis")
	}
	return nil
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}
