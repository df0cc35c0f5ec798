package backend

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/masc-run/masc/internal/codec"
	"github.com/masc-run/masc/internal/masc"
)

// Filesystem maps key:part -> dir/file under a base directory. Every
// operation except Exists and ListKeys holds a per-file advisory flock
// (github.com/gofrs/flock) so
// concurrent MASC processes sharing a base path stay TOCTOU-safe, the same
// "lock a file on disk" concern SPEC_FULL.md grounds on the pack's
// compozy manifest.
type Filesystem struct {
	baseDir string
	codec   *codec.Codec
}

// NewFilesystem creates a Filesystem backend rooted at baseDir, creating it
// if necessary.
func NewFilesystem(baseDir string, c *codec.Codec) (*Filesystem, error) {
	if c == nil {
		c = codecFor()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, masc.IoError("create base directory", err)
	}
	return &Filesystem{baseDir: baseDir, codec: c}, nil
}

func (f *Filesystem) pathFor(key string) string {
	parts := strings.Split(key, ":")
	segs := append([]string{f.baseDir}, parts...)
	return filepath.Join(segs...)
}

func (f *Filesystem) lockFileFor(dataPath string) *flock.Flock {
	return flock.New(dataPath + ".flock")
}

func withFlock(fl *flock.Flock, fn func() error) error {
	if err := fl.Lock(); err != nil {
		return masc.IoError("acquire file lock", err)
	}
	defer fl.Unlock()
	return fn()
}

func (f *Filesystem) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	path := f.pathFor(key)
	var raw []byte
	var found bool
	err := withFlock(f.lockFileFor(path), func() error {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return masc.IoError("read "+path, err)
		}
		raw, found = data, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return f.codec.Decode(raw), true, nil
}

func (f *Filesystem) Set(_ context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	path := f.pathFor(key)
	return withFlock(f.lockFileFor(path), func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return masc.IoError("create parent directory", err)
		}
		if err := os.WriteFile(path, f.codec.Encode(value), 0o644); err != nil {
			return masc.IoError("write "+path, err)
		}
		return nil
	})
}

func (f *Filesystem) SetIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	path := f.pathFor(key)
	created := false
	err := withFlock(f.lockFileFor(path), func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return masc.IoError("create parent directory", err)
		}
		fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		if err != nil {
			return masc.IoError("create "+path, err)
		}
		defer fd.Close()
		if _, err := fd.Write(f.codec.Encode(value)); err != nil {
			return masc.IoError("write "+path, err)
		}
		created = true
		return nil
	})
	return created, err
}

func (f *Filesystem) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	path := f.pathFor(key)
	return withFlock(f.lockFileFor(path), func() error {
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			return masc.NotFound("key", key)
		}
		if err != nil {
			return masc.IoError("remove "+path, err)
		}
		return nil
	})
}

func (f *Filesystem) Exists(_ context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(f.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, masc.IoError("stat", err)
	}
	return true, nil
}

func (f *Filesystem) ListKeys(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(f.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".flock") {
			return nil
		}
		rel, err := filepath.Rel(f.baseDir, path)
		if err != nil {
			return err
		}
		key := strings.ReplaceAll(rel, string(filepath.Separator), ":")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, masc.IoError("walk base directory", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *Filesystem) GetAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	keys, err := f.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := f.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *Filesystem) AcquireLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	path := f.pathFor(lockKey(key))
	now := time.Now()
	acquired := false
	err := withFlock(f.lockFileFor(path), func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return masc.IoError("create parent directory", err)
		}
		existing, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return masc.IoError("read lock file", err)
		}
		if err == nil {
			var rec LockRecord
			if jerr := json.Unmarshal(f.codec.Decode(existing), &rec); jerr == nil && !rec.Expired(now) {
				return nil // live incumbent; do not acquire.
			}
			// Expired (or unparseable) incumbent: reclaim below.
		}
		rec := LockRecord{Owner: owner, AcquiredAt: float64(now.Unix()), ExpiresAt: float64(now.Add(ttl).Unix())}
		encoded, jerr := json.Marshal(rec)
		if jerr != nil {
			return masc.IoError("marshal lock record", jerr)
		}
		if werr := os.WriteFile(path, f.codec.Encode(encoded), 0o644); werr != nil {
			return masc.IoError("write lock file", werr)
		}
		acquired = true
		return nil
	})
	return acquired, err
}

func (f *Filesystem) ReleaseLock(_ context.Context, key, owner string) (bool, error) {
	path := f.pathFor(lockKey(key))
	released := false
	err := withFlock(f.lockFileFor(path), func() error {
		existing, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return masc.IoError("read lock file", err)
		}
		var rec LockRecord
		if jerr := json.Unmarshal(f.codec.Decode(existing), &rec); jerr != nil || rec.Owner != owner {
			return nil
		}
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			return masc.IoError("remove lock file", rerr)
		}
		released = true
		return nil
	})
	return released, err
}

func (f *Filesystem) ExtendLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	path := f.pathFor(lockKey(key))
	now := time.Now()
	extended := false
	err := withFlock(f.lockFileFor(path), func() error {
		existing, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return masc.IoError("read lock file", err)
		}
		var rec LockRecord
		if jerr := json.Unmarshal(f.codec.Decode(existing), &rec); jerr != nil || rec.Owner != owner {
			return nil
		}
		rec.ExpiresAt = float64(now.Add(ttl).Unix())
		encoded, jerr := json.Marshal(rec)
		if jerr != nil {
			return masc.IoError("marshal lock record", jerr)
		}
		if werr := os.WriteFile(path, f.codec.Encode(encoded), 0o644); werr != nil {
			return masc.IoError("write lock file", werr)
		}
		extended = true
		return nil
	})
	return extended, err
}

func (f *Filesystem) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	const probeKey = "__masc_health_probe__"
	if err := f.Set(ctx, probeKey, []byte("ok")); err != nil {
		return Health{Healthy: false, Latency: time.Since(start), Err: err}
	}
	_, _, err := f.Get(ctx, probeKey)
	_ = f.Delete(ctx, probeKey)
	return Health{Healthy: err == nil, Latency: time.Since(start), Err: err}
}
