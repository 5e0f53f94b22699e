package hnsw

import (
	"fmt"
	"math"
)

// RebuildReason names why a full rebuild was triggered.
type RebuildReason string

const (
	RebuildNone              RebuildReason = ""
	RebuildStale             RebuildReason = "stale_flag_set"
	RebuildTombstoneRatio    RebuildReason = "tombstone_ratio_exceeded"
	RebuildSchemaMismatch    RebuildReason = "schema_version_mismatch"
	RebuildMissingOrCorrupt  RebuildReason = "index_file_missing_or_corrupt"
)

// TombstoneRatioThreshold is the |tombstones|/|id_mapping| ratio above which
// a full rebuild is preferred over further incremental updates (§4.5).
const TombstoneRatioThreshold = 0.3

// ShouldRebuild evaluates the §4.5 rebuild triggers against the current
// index and an on-disk schema version comparison. loadErr is the error (if
// any) from attempting to load the persisted index.
func ShouldRebuild(idx *Index, onDiskSchemaVersion, expectedSchemaVersion int, loadErr error) RebuildReason {
	if loadErr != nil {
		return RebuildMissingOrCorrupt
	}
	if onDiskSchemaVersion != expectedSchemaVersion {
		return RebuildSchemaMismatch
	}
	if idx.Stale() {
		return RebuildStale
	}
	if idx.TombstoneRatio() > TombstoneRatioThreshold {
		return RebuildTombstoneRatio
	}
	return RebuildNone
}

// BlueGreenRebuild builds a shadow index from source, validates its vector
// count against expectedCount within ±5%, and returns it for an atomic
// swap by the caller. It never mutates the live index; on validation
// failure it returns an error and the caller must discard the shadow.
func BlueGreenRebuild(cfg Config, source []Point, expectedCount int, logger interface {
	Warn(string, ...any)
}) (*Index, error) {
	shadow := New(cfg, nil)

	if err := shadow.Upsert(source); err != nil {
		return nil, fmt.Errorf("hnsw: blue-green rebuild upsert: %w", err)
	}

	if expectedCount > 0 {
		got := shadow.Len()
		lower := int(math.Floor(float64(expectedCount) * 0.95))
		upper := int(math.Ceil(float64(expectedCount) * 1.05))
		if got < lower || got > upper {
			if logger != nil {
				logger.Warn("hnsw: blue-green rebuild failed vector count validation", "got", got, "expected", expectedCount)
			}
			return nil, fmt.Errorf("hnsw: blue-green rebuild vector count %d outside ±5%% of expected %d", got, expectedCount)
		}
	}

	if shadow.Stale() {
		return nil, fmt.Errorf("hnsw: blue-green rebuild produced a stale shadow index")
	}

	return shadow, nil
}
