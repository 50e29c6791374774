package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/skill-tournaments/metrics"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RedisCache is a read-through cache for tournament and leaderboard views.
// Redis failures degrade to the loader; they never fail the request.
// Каждый Invalidate увеличивает поколение турнира; заполнение, начатое до него, не записывается.
type RedisCache struct {
	rdb            redis.UniversalClient
	tournamentTTL  time.Duration
	leaderboardTTL time.Duration
	group          singleflight.Group
	logger         *zap.Logger
}

func NewRedisCache(rdb redis.UniversalClient, tournamentTTL, leaderboardTTL time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		rdb:            rdb,
		tournamentTTL:  tournamentTTL,
		leaderboardTTL: leaderboardTTL,
		logger:         logger.Named("cache"),
	}
}

func tournamentKey(id uuid.UUID) string {
	return "tournament:" + id.String()
}

func leaderboardKey(id uuid.UUID) string {
	return "tournament:" + id.String() + ":leaderboard"
}

func generationKey(id uuid.UUID) string {
	return "tournament:" + id.String() + ":gen"
}

// generationTTL must outlive any load.
const generationTTL = 24 * time.Hour

var errStaleFill = errors.New("cache generation moved during load")

func (c *RedisCache) Tournament(ctx context.Context, id uuid.UUID, load func(ctx context.Context) (*models.Tournament, error)) (*models.Tournament, error) {
	var t models.Tournament
	if c.get(ctx, "tournament", tournamentKey(id), &t) {
		return &t, nil
	}
	v, err, _ := c.group.Do(tournamentKey(id), func() (interface{}, error) {
		gen, ok := c.generation(ctx, id)
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			c.set(ctx, id, gen, tournamentKey(id), loaded, c.tournamentTTL)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Tournament).Clone(), nil
}

func (c *RedisCache) Leaderboard(ctx context.Context, id uuid.UUID, load func(ctx context.Context) ([]models.LeaderboardRow, error)) ([]models.LeaderboardRow, error) {
	var rows []models.LeaderboardRow
	if c.get(ctx, "leaderboard", leaderboardKey(id), &rows) {
		return rows, nil
	}
	v, err, _ := c.group.Do(leaderboardKey(id), func() (interface{}, error) {
		gen, ok := c.generation(ctx, id)
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			c.set(ctx, id, gen, leaderboardKey(id), loaded, c.leaderboardTTL)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	loaded := v.([]models.LeaderboardRow)
	return append([]models.LeaderboardRow(nil), loaded...), nil
}

func (c *RedisCache) Invalidate(ctx context.Context, id uuid.UUID) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(id))
		pipe.Expire(ctx, generationKey(id), generationTTL)
		pipe.Del(ctx, tournamentKey(id), leaderboardKey(id))
		return nil
	})
	if err != nil {
		c.logger.Warn("failed to invalidate cache", zap.String("tournament_id", id.String()), zap.Error(err))
	}
}

func (c *RedisCache) get(ctx context.Context, view, key string, dst interface{}) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		metrics.CacheLookups.WithLabelValues(view, "miss").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		metrics.CacheLookups.WithLabelValues(view, "miss").Inc()
		return false
	}
	metrics.CacheLookups.WithLabelValues(view, "hit").Inc()
	return true
}

// generation reads the tournament's cache generation; false means Redis is unavailable.
func (c *RedisCache) generation(ctx context.Context, id uuid.UUID) (string, bool) {
	gen, err := c.rdb.Get(ctx, generationKey(id)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0", true
	case err != nil:
		c.logger.Warn("cache generation read failed", zap.String("tournament_id", id.String()), zap.Error(err))
		return "", false
	}
	return gen, true
}

// set writes v under WATCH on the generation key, only if it still equals gen.
func (c *RedisCache) set(ctx context.Context, id uuid.UUID, gen, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, generationKey(id)).Result()
		switch {
		case errors.Is(err, redis.Nil):
			current = "0"
		case err != nil:
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, ttl)
			return nil
		})
		return err
	}, generationKey(id))
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("cache fill dropped after invalidation", zap.String("key", key))
	default:
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// Nop calls the loaders directly.
type Nop struct{}

func (Nop) Tournament(ctx context.Context, id uuid.UUID, load func(ctx context.Context) (*models.Tournament, error)) (*models.Tournament, error) {
	return load(ctx)
}

func (Nop) Leaderboard(ctx context.Context, id uuid.UUID, load func(ctx context.Context) ([]models.LeaderboardRow, error)) ([]models.LeaderboardRow, error) {
	return load(ctx)
}

func (Nop) Invalidate(ctx context.Context, id uuid.UUID) {}
