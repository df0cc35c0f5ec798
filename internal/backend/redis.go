package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/masc-run/masc/internal/codec"
	"github.com/masc-run/masc/internal/masc"
)

// Redis is the remote-KV driver from spec §4.2, mapping the uniform
// contract onto github.com/redis/go-redis/v9's SETNX/GET/SCAN/PEXPIRE
// equivalents. Lock TTLs are expressed server-side via Redis key expiry
// but defensively re-checked against the stored LockRecord on read, since
// a stale client clock or a write that raced the expiry should never be
// trusted blindly.
type Redis struct {
	client   *redis.Client
	codec    *codec.Codec
	basePath string
}

// NewRedis returns a Redis backend for addr namespaced under basePath's
// project prefix (spec §3). The client connects lazily, so NewRedis does
// not contact the server and never returns an error.
func NewRedis(addr, basePath string, c *codec.Codec) (*Redis, error) {
	if c == nil {
		c = codecFor()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Redis{client: client, codec: c, basePath: basePath}, nil
}

func (r *Redis) nsKey(key string) string { return namespacedKey(r.basePath, key) }

func (r *Redis) stripNS(nsKey string) string {
	prefix := projectPrefix(r.basePath) + ":"
	return strings.TrimPrefix(nsKey, prefix)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	raw, err := r.client.Get(ctx, r.nsKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, masc.IoError("redis GET", err)
	}
	return r.codec.Decode(raw), true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.nsKey(key), r.codec.Encode(value), 0).Err(); err != nil {
		return masc.IoError("redis SET", err)
	}
	return nil
}

func (r *Redis) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.nsKey(key), r.codec.Encode(value), 0).Result()
	if err != nil {
		return false, masc.IoError("redis SETNX", err)
	}
	return ok, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	n, err := r.client.Del(ctx, r.nsKey(key)).Result()
	if err != nil {
		return masc.IoError("redis DEL", err)
	}
	if n == 0 {
		return masc.NotFound("key", key)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, r.nsKey(key)).Result()
	if err != nil {
		return false, masc.IoError("redis EXISTS", err)
	}
	return n > 0, nil
}

func (r *Redis) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.nsKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.stripNS(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, masc.IoError("redis SCAN", err)
	}
	return keys, nil
}

func (r *Redis) GetAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	keys, err := r.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := r.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (r *Redis) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	lk := r.nsKey(lockKey(key))
	now := time.Now()
	rec := LockRecord{Owner: owner, AcquiredAt: float64(now.Unix()), ExpiresAt: float64(now.Add(ttl).Unix())}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, masc.IoError("marshal lock record", err)
	}

	ok, err := r.client.SetNX(ctx, lk, r.codec.Encode(encoded), ttl).Result()
	if err != nil {
		return false, masc.IoError("redis SETNX lock", err)
	}
	if ok {
		return true, nil
	}

	raw, err := r.client.Get(ctx, lk).Bytes()
	if errors.Is(err, redis.Nil) {
		// Raced with an expiring incumbent; one retry is enough since the
		// slot is now free.
		ok, err := r.client.SetNX(ctx, lk, r.codec.Encode(encoded), ttl).Result()
		if err != nil {
			return false, masc.IoError("redis SETNX lock retry", err)
		}
		return ok, nil
	}
	if err != nil {
		return false, masc.IoError("redis GET lock", err)
	}
	var existing LockRecord
	if jerr := json.Unmarshal(r.codec.Decode(raw), &existing); jerr != nil || !existing.Expired(now) {
		return false, nil
	}
	if err := r.client.Set(ctx, lk, r.codec.Encode(encoded), ttl).Err(); err != nil {
		return false, masc.IoError("redis SET reclaim lock", err)
	}
	return true, nil
}

func (r *Redis) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	lk := r.nsKey(lockKey(key))
	raw, err := r.client.Get(ctx, lk).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, masc.IoError("redis GET lock", err)
	}
	var rec LockRecord
	if jerr := json.Unmarshal(r.codec.Decode(raw), &rec); jerr != nil || rec.Owner != owner {
		return false, nil
	}
	n, err := r.client.Del(ctx, lk).Result()
	if err != nil {
		return false, masc.IoError("redis DEL lock", err)
	}
	return n > 0, nil
}

func (r *Redis) ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	lk := r.nsKey(lockKey(key))
	raw, err := r.client.Get(ctx, lk).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, masc.IoError("redis GET lock", err)
	}
	var rec LockRecord
	if jerr := json.Unmarshal(r.codec.Decode(raw), &rec); jerr != nil || rec.Owner != owner {
		return false, nil
	}
	rec.ExpiresAt = float64(time.Now().Add(ttl).Unix())
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, masc.IoError("marshal lock record", err)
	}
	if err := r.client.Set(ctx, lk, r.codec.Encode(encoded), ttl).Err(); err != nil {
		return false, masc.IoError("redis SET extend lock", err)
	}
	return true, nil
}

func (r *Redis) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	err := r.client.Ping(ctx).Err()
	return Health{Healthy: err == nil, Latency: time.Since(start), Err: err}
}

// Close releases the underlying client connection pool.
func (r *Redis) Close() error { return r.client.Close() }
