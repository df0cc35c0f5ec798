// Command mascd initializes a MASC coordination room against the
// configured backend. It owns no network listener: agents reach the
// room through the Backend driver directly (spec §2).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/masc-run/masc/internal/backend"
	"github.com/masc-run/masc/internal/codec"
	"github.com/masc-run/masc/internal/masc"
	"github.com/masc-run/masc/internal/room"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mascd:", err)
		os.Exit(1)
	}
}

func run() error {
	logger := masc.NewLogger("mascd")

	basePath := os.Getenv("MASC_BASE_PATH")
	if basePath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		basePath = cwd
	}
	basePath = filepath.Clean(basePath)

	c, err := newCodec()
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, err := backend.NewFromEnv(ctx, basePath, c)
	if err != nil {
		return err
	}

	r := room.New(b, filepath.Join(basePath, ".masc"), logger)
	if err := r.Init(ctx); err != nil {
		return err
	}

	h := b.HealthCheck(ctx)
	logger.Info("room ready", "base_path", basePath, "backend_healthy", h.Healthy, "latency", h.Latency)

	if snap, err := r.Metrics().Snapshot(); err == nil {
		logger.Info("metrics snapshot", "counters", snap)
	}
	return nil
}

func newCodec() (*codec.Codec, error) {
	dictPath := os.Getenv("MASC_DICTIONARY_PATH")
	if dictPath == "" {
		return codec.New()
	}
	dict, err := os.ReadFile(dictPath)
	if err != nil {
		return codec.New()
	}
	return codec.NewWithDictionary(dict)
}
