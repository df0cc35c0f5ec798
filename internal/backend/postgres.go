package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/masc-run/masc/internal/codec"
	"github.com/masc-run/masc/internal/masc"
)

// pgxIface is the subset of *pgxpool.Pool's method set Postgres needs.
// It exists so tests can substitute github.com/pashagolub/pgxmock/v4's
// PgxPoolIface without a live database.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Postgres is the relational driver from spec §4.2: INSERT ... ON CONFLICT
// for set_if_absent, SELECT ... FOR UPDATE for the acquire_lock
// check-and-replace, LIKE-prefix scans for list_keys. Schema is
// auto-created on first use, by a read or a write.
type Postgres struct {
	pool  pgxIface
	codec *codec.Codec

	schemaOnce sync.Once
	schemaErr  error
}

const kvTableDDL = `
CREATE TABLE IF NOT EXISTS masc_kv (
	key   TEXT PRIMARY KEY,
	value BYTEA NOT NULL
)`

// NewPostgres connects to connString and returns a Postgres backend.
func NewPostgres(ctx context.Context, connString string, c *codec.Codec) (*Postgres, error) {
	if c == nil {
		c = codecFor()
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, masc.Wrap(masc.CodeConnectionFailed, "connect to postgres", err)
	}
	return &Postgres{pool: pool, codec: c}, nil
}

// newPostgresWithPool builds a Postgres backend around an already-open
// pool, letting tests inject a pgxmock.PgxPoolIface in place of a live
// *pgxpool.Pool.
func newPostgresWithPool(pool pgxIface, c *codec.Codec) *Postgres {
	if c == nil {
		c = codecFor()
	}
	return &Postgres{pool: pool, codec: c}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	p.schemaOnce.Do(func() {
		_, p.schemaErr = p.pool.Exec(ctx, kvTableDDL)
	})
	if p.schemaErr != nil {
		return masc.IoError("create schema", p.schemaErr)
	}
	return nil
}

// likePrefix escapes LIKE metacharacters in prefix and appends the
// wildcard suffix.
func likePrefix(prefix string) string {
	escaped := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_").Replace(prefix)
	return escaped + "%"
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := p.pool.QueryRow(ctx, "SELECT value FROM masc_kv WHERE key = $1", key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, masc.IoError("select", err)
	}
	return p.codec.Decode(raw), true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO masc_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, p.codec.Encode(value))
	if err != nil {
		return masc.IoError("upsert", err)
	}
	return nil
}

func (p *Postgres) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO masc_kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, p.codec.Encode(value))
	if err != nil {
		return false, masc.IoError("insert if absent", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, "DELETE FROM masc_kv WHERE key = $1", key)
	if err != nil {
		return masc.IoError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return masc.NotFound("key", key)
	}
	return nil
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}
	var dummy int
	err := p.pool.QueryRow(ctx, "SELECT 1 FROM masc_kv WHERE key = $1", key).Scan(&dummy)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, masc.IoError("select exists", err)
	}
	return true, nil
}

func (p *Postgres) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, "SELECT key FROM masc_kv WHERE key LIKE $1 ORDER BY key", likePrefix(prefix))
	if err != nil {
		return nil, masc.IoError("select keys", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, masc.IoError("scan key", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *Postgres) GetAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, "SELECT key, value FROM masc_kv WHERE key LIKE $1", likePrefix(prefix))
	if err != nil {
		return nil, masc.IoError("select all", err)
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var raw []byte
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, masc.IoError("scan row", err)
		}
		out[k] = p.codec.Decode(raw)
	}
	return out, rows.Err()
}

func (p *Postgres) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}
	lk := lockKey(key)
	now := time.Now()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, masc.IoError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, "SELECT value FROM masc_kv WHERE key = $1 FOR UPDATE", lk).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// no incumbent, fall through to acquire
	case err != nil:
		return false, masc.IoError("select lock for update", err)
	default:
		var rec LockRecord
		if jerr := json.Unmarshal(p.codec.Decode(raw), &rec); jerr == nil && !rec.Expired(now) {
			return false, nil
		}
	}

	rec := LockRecord{Owner: owner, AcquiredAt: float64(now.Unix()), ExpiresAt: float64(now.Add(ttl).Unix())}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, masc.IoError("marshal lock record", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO masc_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		lk, p.codec.Encode(encoded))
	if err != nil {
		return false, masc.IoError("upsert lock", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, masc.IoError("commit tx", err)
	}
	return true, nil
}

func (p *Postgres) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}
	lk := lockKey(key)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, masc.IoError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, "SELECT value FROM masc_kv WHERE key = $1 FOR UPDATE", lk).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, masc.IoError("select lock for update", err)
	}
	var rec LockRecord
	if jerr := json.Unmarshal(p.codec.Decode(raw), &rec); jerr != nil || rec.Owner != owner {
		return false, nil
	}
	if _, err := tx.Exec(ctx, "DELETE FROM masc_kv WHERE key = $1", lk); err != nil {
		return false, masc.IoError("delete lock", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, masc.IoError("commit tx", err)
	}
	return true, nil
}

func (p *Postgres) ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}
	lk := lockKey(key)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, masc.IoError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, "SELECT value FROM masc_kv WHERE key = $1 FOR UPDATE", lk).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, masc.IoError("select lock for update", err)
	}
	var rec LockRecord
	if jerr := json.Unmarshal(p.codec.Decode(raw), &rec); jerr != nil || rec.Owner != owner {
		return false, nil
	}
	rec.ExpiresAt = float64(time.Now().Add(ttl).Unix())
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, masc.IoError("marshal lock record", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE masc_kv SET value = $2 WHERE key = $1", lk, p.codec.Encode(encoded)); err != nil {
		return false, masc.IoError("update lock", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, masc.IoError("commit tx", err)
	}
	return true, nil
}

func (p *Postgres) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	err := p.pool.Ping(ctx)
	return Health{Healthy: err == nil, Latency: time.Since(start), Err: err}
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() { p.pool.Close() }
