package cmd

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cidx-dev/cidx/internal/config"
	"github.com/cidx-dev/cidx/internal/daemon"
	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/store"
)

// collDir returns a collection's on-disk root, matching internal/daemon's
// own <project>/.cidx/index/<collection> layout.
func collDir(root, collection string) string {
	return filepath.Join(root, ".cidx", "index", collection)
}

// ensureCollection initializes the on-disk store the first time a project
// is indexed; every later operation (query, incremental index, watch)
// finds it already there via store.Open. This is the one piece of
// bootstrapping internal/daemon.Handler deliberately leaves to its caller,
// since a daemon never decides to create a collection on its own.
func ensureCollection(root, collection string, cfg config.Config, logger *slog.Logger) error {
	dir := collDir(root, collection)
	_, existed, err := store.Open(dir, logger)
	if err != nil {
		return err
	}
	if existed {
		return nil
	}

	d := cfg.Embedding.Dimensions
	hnswCfg := hnsw.Config{
		Dimensions:     d,
		Distance:       hnsw.DistanceCosine,
		M:              cfg.HNSW.M,
		EfConstruction: cfg.HNSW.EfConstruction,
		EfSearch:       cfg.HNSW.EfSearch,
	}

	_, err = store.Init(dir, collection, d, d, store.DistanceCosine, hnswCfg, logger)
	return err
}

// buildHandler wires one in-process daemon.Handler for a single project
// root, resolving only that one collection. Both the `serve` subcommand
// (behind the Server/socket) and the standalone `index`/`query` fallback
// paths (when no daemon is running) share this construction, so both
// routes exercise identical cache/orchestrator/query wiring.
func buildHandler(root, collection string, cfg config.Config, logger *slog.Logger) (*daemon.Handler, error) {
	embedder, err := buildEmbedder(cfg.Embedding.Dimensions, cfg.Embedding.Model)
	if err != nil {
		return nil, err
	}

	resolve := func(c string) (string, bool) {
		if c == collection {
			return root, true
		}
		return "", false
	}

	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	return daemon.NewHandler(resolve, embedder, cacheTTL, logger), nil
}
