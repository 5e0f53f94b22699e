package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// pointFilePath returns the <first-two-hex>/<id>.vec path for pointID under
// root's points/ directory.
func pointFilePath(root, pointID string) string {
	prefix := pointID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(root, "points", prefix, pointID+".vec")
}

// encodePoint serializes a point record as:
//   label (uint64 LE) | min (f32 LE) | max (f32 LE) | len(quantized) (uint32 LE) | quantized bytes | json metadata
func encodePoint(p Point) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, p.Label); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, p.Min); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, p.Max); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(p.Quantized))); err != nil {
		return nil, err
	}
	buf.Write(p.Quantized)

	metaJSON, err := json.Marshal(p.Meta)
	if err != nil {
		return nil, fmt.Errorf("store: marshal point metadata: %w", err)
	}
	buf.Write(metaJSON)

	return buf.Bytes(), nil
}

// decodePoint is the inverse of encodePoint.
func decodePoint(pointID string, data []byte) (Point, error) {
	r := bytes.NewReader(data)

	var p Point
	p.PointID = pointID

	if err := binary.Read(r, binary.LittleEndian, &p.Label); err != nil {
		return Point{}, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: truncated point record (label)", err)
	}
	p.HasLabel = true
	if err := binary.Read(r, binary.LittleEndian, &p.Min); err != nil {
		return Point{}, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: truncated point record (min)", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.Max); err != nil {
		return Point{}, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: truncated point record (max)", err)
	}
	var qlen uint32
	if err := binary.Read(r, binary.LittleEndian, &qlen); err != nil {
		return Point{}, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: truncated point record (qlen)", err)
	}
	p.Quantized = make([]uint8, qlen)
	if _, err := r.Read(p.Quantized); err != nil {
		return Point{}, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: truncated point record (quantized bytes)", err)
	}

	metaJSON, err := readAll(r)
	if err != nil {
		return Point{}, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: truncated point record (metadata)", err)
	}
	if err := json.Unmarshal(metaJSON, &p.Meta); err != nil {
		return Point{}, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: invalid point metadata JSON", err)
	}

	return p, nil
}

func readAll(r *bytes.Reader) ([]byte, error) {
	remaining := r.Len()
	out := make([]byte, remaining)
	n, err := r.Read(out)
	if err != nil && n == 0 && remaining > 0 {
		return nil, err
	}
	return out[:n], nil
}

// writePointFile writes p's vec file to a temp path then renames into place,
// so a concurrent reader never observes a partial write (§4.4).
func writePointFile(root string, p Point) error {
	path := pointFilePath(root, p.PointID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cidxerrors.IOError("store: create points subdirectory", err)
	}

	data, err := encodePoint(p)
	if err != nil {
		return cidxerrors.InternalError("store: encode point", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return cidxerrors.IOError("store: write temp point file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return cidxerrors.IOError("store: rename point file into place", err)
	}
	return nil
}

// readPointFile reads and decodes a point's vec file.
func readPointFile(root, pointID string) (Point, error) {
	path := pointFilePath(root, pointID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Point{}, cidxerrors.New(cidxerrors.CodeIOFileNotFound, "store: point not found", err)
		}
		return Point{}, cidxerrors.IOError("store: read point file", err)
	}
	return decodePoint(pointID, data)
}

// removePointFile deletes a point's vec file. Missing files are not an error
// (idempotent delete).
func removePointFile(root, pointID string) error {
	path := pointFilePath(root, pointID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return cidxerrors.IOError("store: remove point file", err)
	}
	return nil
}
