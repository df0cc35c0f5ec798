package backend

import (
	"context"
	"os"
	"strings"

	"github.com/masc-run/masc/internal/codec"
	"github.com/masc-run/masc/internal/masc"
)

// Kind is the closed driver sum type from spec §9 ("Dynamic dispatch over
// backend drivers: model as a sum type over the four drivers; operations
// dispatch by match. Adding a driver is a single case.").
type Kind int

const (
	KindAuto Kind = iota
	KindMemory
	KindFilesystem
	KindRedis
	KindPostgres
)

func parseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "", "auto":
		return KindAuto, true
	case "memory":
		return KindMemory, true
	case "filesystem", "fs":
		return KindFilesystem, true
	case "redis":
		return KindRedis, true
	case "postgres", "postgresql":
		return KindPostgres, true
	default:
		return KindAuto, false
	}
}

// Options configures backend construction; fields not needed by the
// selected driver are ignored.
type Options struct {
	Kind        Kind
	BasePath    string // filesystem root / distributed-backend namespace seed
	RedisURL    string
	PostgresURL string
	Codec       *codec.Codec
	Logger      interface {
		Warn(msg string, args ...any)
	}
}

// NewFromEnv auto-detects a backend from MASC_STORAGE_TYPE and the
// associated *_URL environment variables (spec §6), in priority order:
// remote KV, relational, else filesystem. Construction failures fall back
// to filesystem, then to in-memory, to keep the coordinator alive (spec
// §4.2 "Auto-detection").
func NewFromEnv(ctx context.Context, basePath string, c *codec.Codec) (Backend, error) {
	kind, ok := parseKind(os.Getenv("MASC_STORAGE_TYPE"))
	if !ok {
		kind = KindAuto
	}
	opts := Options{
		Kind:        kind,
		BasePath:    basePath,
		RedisURL:    firstNonEmpty(os.Getenv("REDIS_URL"), os.Getenv("MASC_REDIS_URL")),
		PostgresURL: firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("MASC_POSTGRES_URL")),
		Codec:       c,
	}
	return New(ctx, opts)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// New constructs a Backend per opts, resolving KindAuto by priority order
// (remote KV, relational, else filesystem) and falling back to filesystem
// then memory on driver init failure.
func New(ctx context.Context, opts Options) (Backend, error) {
	kind := opts.Kind
	if kind == KindAuto {
		switch {
		case opts.RedisURL != "":
			kind = KindRedis
		case opts.PostgresURL != "":
			kind = KindPostgres
		default:
			kind = KindFilesystem
		}
	}

	switch kind {
	case KindMemory:
		return NewMemory(opts.Codec), nil
	case KindFilesystem:
		base := opts.BasePath
		if base == "" {
			base = ".masc"
		}
		return newFilesystemWithFallback(base, opts.Codec)
	case KindRedis:
		b, err := NewRedis(opts.RedisURL, opts.BasePath, opts.Codec)
		if err != nil {
			return fallbackAfter(opts, err)
		}
		return b, nil
	case KindPostgres:
		b, err := NewPostgres(ctx, opts.PostgresURL, opts.Codec)
		if err != nil {
			return fallbackAfter(opts, err)
		}
		return b, nil
	default:
		return nil, masc.New(masc.CodeInvalidKey, "unknown backend kind")
	}
}

// newFilesystemWithFallback degrades to an in-memory backend if even the
// filesystem driver cannot be constructed (e.g. an unwritable base_path).
func newFilesystemWithFallback(base string, c *codec.Codec) (Backend, error) {
	b, err := NewFilesystem(base, c)
	if err != nil {
		return NewMemory(c), nil
	}
	return b, nil
}

func fallbackAfter(opts Options, cause error) (Backend, error) {
	if opts.Logger != nil {
		opts.Logger.Warn("backend driver init failed, falling back to filesystem", "cause", cause)
	}
	base := opts.BasePath
	if base == "" {
		base = ".masc"
	}
	return newFilesystemWithFallback(base, opts.Codec)
}
