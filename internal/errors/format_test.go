package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_BasicError(t *testing.T) {
	err := New(CodeIOFileNotFound, "file 'config.json' not found", nil)

	result := FormatForUser(err)

	assert.Contains(t, result, "file 'config.json' not found")
	assert.Contains(t, result, "[IO_FILE_NOT_FOUND]")
}

func TestFormatForUser_WithSuggestion(t *testing.T) {
	err := New(CodeNetworkUnavailable, "embedding provider is unreachable", nil).
		WithSuggestion("Check VOYAGE_API_KEY and network connectivity")

	result := FormatForUser(err)

	assert.Contains(t, result, "Suggestion:")
	assert.Contains(t, result, "VOYAGE_API_KEY")
}

func TestFormatForUser_StandardError(t *testing.T) {
	err := errors.New("something went wrong")

	result := FormatForUser(err)

	assert.Contains(t, result, "something went wrong")
}

func TestFormatForUser_NilError(t *testing.T) {
	result := FormatForUser(nil)

	assert.Empty(t, result)
}

func TestFormatJSON_BasicError(t *testing.T) {
	err := New(CodeIOFileNotFound, "file not found", nil).
		WithDetail("path", "/foo/bar.txt").
		WithSuggestion("Check the file path")

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, CodeIOFileNotFound, result["code"])
	assert.Equal(t, "file not found", result["message"])
	assert.Equal(t, string(KindIO), result["kind"])
	assert.Equal(t, string(SeverityError), result["severity"])
	assert.Equal(t, "Check the file path", result["suggestion"])

	details, ok := result["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/foo/bar.txt", details["path"])
}

func TestFormatJSON_StandardError(t *testing.T) {
	err := errors.New("generic error")

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, CodeInternal, result["code"])
	assert.Equal(t, "generic error", result["message"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)

	assert.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(data)))
}

func TestFormatJSON_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(CodeInternal, "operation failed", cause)

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "underlying error", result["cause"])
}

func TestFormatForCLI_IncludesCode(t *testing.T) {
	err := New(CodeCorruptionHNSW, "hnsw graph is corrupted", nil).
		WithSuggestion("Run a forced reindex to rebuild the graph")

	result := FormatForCLI(err)

	assert.Contains(t, result, "hnsw graph is corrupted")
	assert.Contains(t, result, "CORRUPTION_HNSW")
}

func TestFormatForCLI_ShortFormat(t *testing.T) {
	err := New(CodeIOFileNotFound, "file not found", nil)

	result := FormatForCLI(err)

	lines := strings.Split(strings.TrimSpace(result), "\n")
	assert.LessOrEqual(t, len(lines), 5, "Should be concise")
}

func TestFormatForLog_IncludesDetailPrefix(t *testing.T) {
	err := New(CodeIOFileNotFound, "file not found", nil).WithDetail("path", "/x")

	fields := FormatForLog(err)

	assert.Equal(t, "/x", fields["detail_path"])
	assert.Equal(t, CodeIOFileNotFound, fields["error_code"])
}
