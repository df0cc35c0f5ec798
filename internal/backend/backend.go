// Package backend implements the pluggable storage contract from spec §4.2:
// a uniform key/value interface with atomic compare-and-set and lease-lock
// primitives, realized by four drivers (memory, filesystem, remote KV,
// relational). Room, Bounded, and Mitosis talk to storage exclusively
// through this interface — never through raw files or SQL directly.
package backend

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/masc-run/masc/internal/codec"
	"github.com/masc-run/masc/internal/validate"
)

// Backend is the uniform K/V contract every driver implements. All methods
// may block on I/O but must never spawn background work; suspension points
// are limited to the call itself (spec §5).
type Backend interface {
	// Get returns the decoded value and true, or nil/false if absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set upserts a value, auto-encoding it with Compact Protocol v4.
	Set(ctx context.Context, key string, value []byte) error
	// SetIfAbsent is the only load-bearing CAS primitive: it creates key
	// iff absent and reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	// Delete removes key. Deleting an absent key returns NotFound.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// ListKeys lexically enumerates keys under prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	// GetAll returns the full (key, value) listing under prefix.
	GetAll(ctx context.Context, prefix string) (map[string][]byte, error)

	// AcquireLock creates locks:<key> iff absent or expired, returning true
	// on success.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes the lock iff its recorded owner matches.
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
	// ExtendLock bumps expires_at iff the recorded owner matches.
	ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// HealthCheck round-trips a probe key and reports latency/healthiness.
	HealthCheck(ctx context.Context) Health
}

// Health is the result of a backend round-trip probe.
type Health struct {
	Healthy bool
	Latency time.Duration
	Err     error
}

// LockRecord is the on-wire shape of a lease lock, shared between the
// Backend's own CAS locks and Room's file locks (spec §3).
type LockRecord struct {
	Owner      string  `json:"owner"`
	AcquiredAt float64 `json:"acquired_at"`
	ExpiresAt  float64 `json:"expires_at"`
}

// Expired reports whether the lock has passed its lease, evaluated against
// now (spec §3: "a FileLock with now > expires_at is treated as absent").
func (l LockRecord) Expired(now time.Time) bool {
	return float64(now.UnixNano())/1e9 > l.ExpiresAt
}

func lockKey(key string) string { return "locks:" + key }

// projectPrefix computes the 8-hex MD5(base_path) prefix used to isolate
// co-located projects on distributed backends (spec §3).
func projectPrefix(basePath string) string {
	sum := md5.Sum([]byte(basePath))
	return hex.EncodeToString(sum[:])[:8]
}

// namespacedKey applies the distributed-backend project prefix to a
// validated key.
func namespacedKey(basePath, key string) string {
	if basePath == "" {
		return key
	}
	return projectPrefix(basePath) + ":" + key
}

// checkKey validates key against the backend key grammar before any driver
// touches storage.
func checkKey(key string) error {
	return validate.Key(key)
}

// codecFor builds a new dictionary-less Codec on each call, for drivers that don't
// hold their own (tests, mainly). Production callers should build one
// dictionary-aware Codec per process and pass it to every driver they
// construct.
func codecFor() *codec.Codec {
	c, err := codec.New()
	if err != nil {
		// zstd.NewWriter/NewReader with no options cannot fail in practice;
		// a nil codec would silently corrupt every write, so this is the
		// one place MASC panics rather than propagating a error return.
		panic(err)
	}
	return c
}
