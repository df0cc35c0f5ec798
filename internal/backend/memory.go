package backend

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/masc-run/masc/internal/codec"
	"github.com/masc-run/masc/internal/masc"
)

// Memory is an in-process hash-map backend guarded by a single mutex. CAS is
// implemented with Go's native map-insert-if-absent check.
type Memory struct {
	mu     sync.Mutex
	data   map[string][]byte
	codec  *codec.Codec
}

// NewMemory creates an empty Memory backend using c for frame encoding. If c
// is nil a dictionary-less Codec is created.
func NewMemory(c *codec.Codec) *Memory {
	if c == nil {
		c = codecFor()
	}
	return &Memory{data: make(map[string][]byte), codec: c}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return m.codec.Decode(raw), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = m.codec.Encode(value)
	return nil
}

func (m *Memory) SetIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = m.codec.Encode(value)
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return masc.NotFound("key", key)
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory) ListKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) GetAll(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for k, raw := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = m.codec.Decode(raw)
		}
	}
	return out, nil
}

func (m *Memory) AcquireLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	lk := lockKey(key)
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if raw, exists := m.data[lk]; exists {
		var rec LockRecord
		if err := json.Unmarshal(m.codec.Decode(raw), &rec); err == nil && !rec.Expired(now) {
			return false, nil
		}
		// Expired incumbent: reclaimable.
	}
	rec := LockRecord{Owner: owner, AcquiredAt: float64(now.Unix()), ExpiresAt: float64(now.Add(ttl).Unix())}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, masc.IoError("marshal lock record", err)
	}
	m.data[lk] = m.codec.Encode(encoded)
	return true, nil
}

func (m *Memory) ReleaseLock(_ context.Context, key, owner string) (bool, error) {
	lk := lockKey(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, exists := m.data[lk]
	if !exists {
		return false, nil
	}
	var rec LockRecord
	if err := json.Unmarshal(m.codec.Decode(raw), &rec); err != nil || rec.Owner != owner {
		return false, nil
	}
	delete(m.data, lk)
	return true, nil
}

func (m *Memory) ExtendLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	lk := lockKey(key)
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, exists := m.data[lk]
	if !exists {
		return false, nil
	}
	var rec LockRecord
	if err := json.Unmarshal(m.codec.Decode(raw), &rec); err != nil || rec.Owner != owner {
		return false, nil
	}
	rec.ExpiresAt = float64(now.Add(ttl).Unix())
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, masc.IoError("marshal lock record", err)
	}
	m.data[lk] = m.codec.Encode(encoded)
	return true, nil
}

func (m *Memory) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	const probeKey = "__masc_health_probe__"
	if err := m.Set(ctx, probeKey, []byte("ok")); err != nil {
		return Health{Healthy: false, Latency: time.Since(start), Err: err}
	}
	_, _, err := m.Get(ctx, probeKey)
	_ = m.Delete(ctx, probeKey)
	return Health{Healthy: err == nil, Latency: time.Since(start), Err: err}
}
