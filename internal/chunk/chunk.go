// Package chunk splits file contents into size-bounded, non-overlapping line
// ranges for embedding and full-text indexing.
package chunk

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ChunkType distinguishes code chunks from temporal (commit) chunks.
type ChunkType string

const (
	TypeCode          ChunkType = "code"
	TypeCommitMessage ChunkType = "commit_message"
	TypeCommitDiff    ChunkType = "commit_diff"
)

// DefaultSoftCapBytes is the default byte length at which a chunk is emitted.
const DefaultSoftCapBytes = 1500

// BinarySniffWindow is how many leading bytes are scanned for a NUL byte when
// deciding whether a file is binary.
const BinarySniffWindow = 8192

// Chunk is a contiguous, 1-based, end-inclusive line range from one file.
type Chunk struct {
	PointID   string
	Path      string
	StartLine int
	EndLine   int
	Text      string
	Language  string
	Type      ChunkType
}

// Options configures the chunker.
type Options struct {
	// SoftCapBytes is the byte length at which a chunk is emitted.
	SoftCapBytes int
	// OverlapLines is how many trailing lines of the previous chunk are
	// repeated at the start of the next one. Default 0 for code.
	OverlapLines int
}

// DefaultOptions returns the chunker's default tuning.
func DefaultOptions() Options {
	return Options{SoftCapBytes: DefaultSoftCapBytes, OverlapLines: 0}
}

// IsBinary reports whether data looks like a binary file: a NUL byte
// anywhere in the first BinarySniffWindow bytes.
func IsBinary(data []byte) bool {
	window := data
	if len(window) > BinarySniffWindow {
		window = window[:BinarySniffWindow]
	}
	return bytes.IndexByte(window, 0) >= 0
}

// Split splits file content into a size-bounded sequence of line-range
// chunks. relPath is used both as chunk metadata and as part of the
// point_id hash, so it must be stable across re-indexing runs of the same
// file for content-addressed deduplication to work.
func Split(relPath string, data []byte, language string, opts Options) []Chunk {
	if opts.SoftCapBytes <= 0 {
		opts.SoftCapBytes = DefaultSoftCapBytes
	}
	if IsBinary(data) {
		return nil
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(lines) {
		end := start
		size := 0
		// Always take at least one line, even if it alone exceeds the cap.
		for end < len(lines) {
			lineLen := len(lines[end]) + 1 // +1 for the newline stripped by splitLines
			if end > start && size+lineLen > opts.SoftCapBytes {
				break
			}
			size += lineLen
			end++
		}

		chunkLines := lines[start:end]
		text := strings.Join(chunkLines, "\n")
		if strings.TrimSpace(text) != "" {
			startLine := start + 1
			endLine := end
			chunks = append(chunks, Chunk{
				PointID:   PointID(relPath, startLine, endLine, text),
				Path:      relPath,
				StartLine: startLine,
				EndLine:   endLine,
				Text:      text,
				Language:  language,
				Type:      TypeCode,
			})
		}

		if opts.OverlapLines > 0 && opts.OverlapLines < end-start {
			start = end - opts.OverlapLines
		} else {
			start = end
		}
	}

	return chunks
}

// splitLines splits data on '\n', stripping a trailing '\r' from each line
// and dropping a single trailing empty line produced by a final newline
// (trailing newline-only content is not a chunk).
func splitLines(data []byte) []string {
	text := string(data)
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// PointID computes the deterministic content-addressed identifier for a
// chunk: H(relPath || startLine || endLine || content).
func PointID(relPath string, startLine, endLine int, content string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00", relPath, startLine, endLine)
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
