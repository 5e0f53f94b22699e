// Package config loads the per-collection cidx configuration file,
// `<project>/.cidx/config.json`. All keys are optional; missing keys take
// documented defaults, and unrecognized keys are ignored with a logged
// warning rather than rejected.
package config

import (
	"encoding/json"
	"log/slog"
	"os"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// FileName is the config file's name within the data directory.
const FileName = "config.json"

// Indexing controls what the chunker and orchestrator walk.
type Indexing struct {
	MaxFileSize int `json:"max_file_size"`
	WorkerCount int `json:"worker_count"`
}

// Embedding selects the embedding model and its expected dimensionality.
type Embedding struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// HNSW tunes the ANN graph build/search parameters.
type HNSW struct {
	M             int `json:"M"`
	EfConstruction int `json:"ef_construction"`
	EfSearch      int `json:"ef_search"`
}

// Cache tunes the per-collection index cache.
type Cache struct {
	TTLSeconds int `json:"ttl_seconds"`
}

// Watch tunes the file-watching debounce window.
type Watch struct {
	DebounceSeconds float64 `json:"debounce_seconds"`
}

// Config is the parsed form of `.cidx/config.json`.
type Config struct {
	FileExtensions []string  `json:"file_extensions"`
	ExcludeDirs    []string  `json:"exclude_dirs"`
	Indexing       Indexing  `json:"indexing"`
	Embedding      Embedding `json:"embedding"`
	HNSW           HNSW      `json:"hnsw"`
	Cache          Cache     `json:"cache"`
	Watch          Watch     `json:"watch"`
}

// Default returns the configuration used when no config file is present or
// when a field is left unset.
func Default() Config {
	return Config{
		FileExtensions: nil, // nil means "index every extension"
		ExcludeDirs:    []string{".git", "node_modules", "vendor", ".cidx"},
		Indexing: Indexing{
			MaxFileSize: 1048576,
			WorkerCount: 8,
		},
		Embedding: Embedding{
			Model:      "voyage-code-3",
			Dimensions: 1024,
		},
		HNSW: HNSW{
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
		},
		Cache: Cache{
			TTLSeconds: 600,
		},
		Watch: Watch{
			DebounceSeconds: 2.0,
		},
	}
}

// Load reads and parses the config file at path, layering it over Default().
// A missing file is not an error: Default() is returned unchanged. Unknown
// top-level keys are detected via a raw-map diff pass and logged as warnings
// rather than rejected, per §6.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, cidxerrors.New(cidxerrors.CodeIOFileNotFound, "reading config file", err).
			WithDetail("path", path)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, cidxerrors.New(cidxerrors.CodeConfigInvalid, "parsing config.json", err).
			WithDetail("path", path).
			WithSuggestion("config.json must be valid JSON; see §6 of the external interface for recognized keys")
	}

	warnUnknownKeys(data, logger)
	applyZeroValueDefaults(&cfg)

	return cfg, nil
}

// recognizedKeys lists the top-level keys §6 names as understood.
var recognizedKeys = map[string]bool{
	"file_extensions": true,
	"exclude_dirs":    true,
	"indexing":        true,
	"embedding":       true,
	"hnsw":            true,
	"cache":           true,
	"watch":           true,
}

func warnUnknownKeys(data []byte, logger *slog.Logger) {
	if logger == nil {
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}

	for key := range raw {
		if !recognizedKeys[key] {
			logger.Warn("config.json: ignoring unrecognized key", slog.String("key", key))
		}
	}
}

// applyZeroValueDefaults fills in fields JSON left at their zero value, since
// a config.json that sets only one nested key (e.g. {"cache":{}}) should not
// zero out the rest of that section's defaults.
func applyZeroValueDefaults(cfg *Config) {
	defaults := Default()

	if cfg.ExcludeDirs == nil {
		cfg.ExcludeDirs = defaults.ExcludeDirs
	}
	if cfg.Indexing.MaxFileSize == 0 {
		cfg.Indexing.MaxFileSize = defaults.Indexing.MaxFileSize
	}
	if cfg.Indexing.WorkerCount == 0 {
		cfg.Indexing.WorkerCount = defaults.Indexing.WorkerCount
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaults.Embedding.Dimensions
	}
	if cfg.HNSW.M == 0 {
		cfg.HNSW.M = defaults.HNSW.M
	}
	if cfg.HNSW.EfConstruction == 0 {
		cfg.HNSW.EfConstruction = defaults.HNSW.EfConstruction
	}
	if cfg.HNSW.EfSearch == 0 {
		cfg.HNSW.EfSearch = defaults.HNSW.EfSearch
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = defaults.Cache.TTLSeconds
	}
	if cfg.Watch.DebounceSeconds == 0 {
		cfg.Watch.DebounceSeconds = defaults.Watch.DebounceSeconds
	}
}
