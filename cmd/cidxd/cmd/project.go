package cmd

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/cidx-dev/cidx/internal/embed"
	"github.com/cidx-dev/cidx/internal/errors"
)

// projectRootFlag holds the --project persistent flag shared by every
// subcommand; empty means "the current working directory".
var projectRootFlag string

// resolveProjectRoot turns projectRootFlag (or the working directory) into
// an absolute path, the form §4.6 names as a collection's identity.
func resolveProjectRoot() (string, error) {
	root := projectRootFlag
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("project root %s is not a directory", abs)
	}
	return abs, nil
}

// collectionSlug derives a stable, filesystem-safe directory name for
// root's collection. A collection is identified by its absolute project
// root (§4.3 "Collection identity"); the slug keeps that identity legible
// (the directory's own basename) while guaranteeing it is unique and free
// of path separators.
func collectionSlug(root string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(root))
	return fmt.Sprintf("%s-%08x", filepath.Base(root), h.Sum32())
}

// defaultEmbedCacheCapacity bounds the in-process embedding cache wrapped
// around every client, so re-indexing unchanged chunks across runs skips
// the network round trip entirely (§5 performance: embedding is the
// dominant per-file cost).
const defaultEmbedCacheCapacity = 8192

// buildEmbedder constructs the Voyage-style embedding client from
// environment configuration, wrapped in a bounded LRU cache. VOYAGE_API_KEY
// is required; there is no offline fallback (§1 Non-goals excludes a
// bundled/local embedding model).
func buildEmbedder(dimensions int, model string) (embed.Embedder, error) {
	apiKey := os.Getenv("VOYAGE_API_KEY")
	if apiKey == "" {
		return nil, errors.New(errors.CodeAuthMissingKey,
			"VOYAGE_API_KEY is not set", nil).
			WithSuggestion("export VOYAGE_API_KEY before running cidxd")
	}

	endpoint := os.Getenv("CIDX_EMBEDDING_ENDPOINT")
	if endpoint == "" {
		endpoint = "https://api.voyageai.com/v1/embeddings"
	}

	client := embed.New(embed.Config{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Model:      model,
		Dimensions: dimensions,
	})

	return embed.NewCached(client, defaultEmbedCacheCapacity)
}
