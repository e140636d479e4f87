package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/horizonlab/prospect/internal/api"
)

// RedisStore keeps the event graph in Redis: one JSON value per event, a
// sorted set indexing ids by timestamp, and a hash of link strengths.
// Link writes are guarded by HSETNX so a link is recorded at most once.
//
// The engine serializes event insertion, so the read-modify-write of an
// event's link lists here does not race with other appends.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client, prefix: "prospect"}, nil
}

func (r *RedisStore) eventKey(id string) string { return r.prefix + ":event:" + id }
func (r *RedisStore) indexKey() string          { return r.prefix + ":events" }
func (r *RedisStore) linksKey() string          { return r.prefix + ":links" }

func (r *RedisStore) Append(ctx context.Context, ev *api.TemporalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.SetNX(ctx, r.eventKey(ev.ID), data, 0)
	pipe.ZAdd(ctx, r.indexKey(), &redis.Z{
		Score:  float64(ev.Timestamp.UnixNano()),
		Member: ev.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis append failed: %v", api.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*api.TemporalEvent, error) {
	data, err := r.client.Get(ctx, r.eventKey(id)).Result()
	if err == redis.Nil {
		return nil, api.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis GET failed: %v", api.ErrStoreUnavailable, err)
	}

	var ev api.TemporalEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &ev, nil
}

func (r *RedisStore) Before(ctx context.Context, t time.Time, window time.Duration, limit int) ([]*api.TemporalEvent, error) {
	ids, err := r.client.ZRevRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min:   strconv.FormatInt(t.Add(-window).UnixNano(), 10),
		Max:   "(" + strconv.FormatInt(t.UnixNano(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis range failed: %v", api.ErrStoreUnavailable, err)
	}
	return r.fetch(ctx, ids)
}

func (r *RedisStore) Range(ctx context.Context, from, to time.Time) ([]*api.TemporalEvent, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixNano(), 10),
		Max: strconv.FormatInt(to.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis range failed: %v", api.ErrStoreUnavailable, err)
	}
	return r.fetch(ctx, ids)
}

func (r *RedisStore) All(ctx context.Context) ([]*api.TemporalEvent, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis range failed: %v", api.ErrStoreUnavailable, err)
	}
	return r.fetch(ctx, ids)
}

func (r *RedisStore) fetch(ctx context.Context, ids []string) ([]*api.TemporalEvent, error) {
	out := make([]*api.TemporalEvent, 0, len(ids))
	for _, id := range ids {
		ev, err := r.Get(ctx, id)
		if errors.Is(err, api.ErrEventNotFound) {
			continue // index ahead of value; skip
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *RedisStore) AddLink(ctx context.Context, causeID, effectID string, strength float64) error {
	if causeID == effectID {
		return nil
	}

	field := causeID + "|" + effectID
	wasSet, err := r.client.HSetNX(ctx, r.linksKey(), field, strength).Result()
	if err != nil {
		return fmt.Errorf("%w: redis HSETNX failed: %v", api.ErrStoreUnavailable, err)
	}
	if !wasSet {
		return nil // link already recorded
	}

	cause, err := r.Get(ctx, causeID)
	if err != nil {
		return err
	}
	effect, err := r.Get(ctx, effectID)
	if err != nil {
		return err
	}
	cause.Consequences = append(cause.Consequences, effectID)
	effect.CausedBy = append(effect.CausedBy, causeID)

	for _, ev := range []*api.TemporalEvent{cause, effect} {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := r.client.Set(ctx, r.eventKey(ev.ID), data, 0).Err(); err != nil {
			return fmt.Errorf("%w: redis SET failed: %v", api.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (r *RedisStore) LinkStrength(ctx context.Context, causeID, effectID string) (float64, bool, error) {
	s, err := r.client.HGet(ctx, r.linksKey(), causeID+"|"+effectID).Float64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: redis HGET failed: %v", api.ErrStoreUnavailable, err)
	}
	return s, true, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
