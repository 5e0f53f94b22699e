package daemon

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTripsThroughWriteAndRead(t *testing.T) {
	var buf bytes.Buffer
	req, err := NewRequest(MethodStatus, StatusParams{Collection: "myproj"})
	require.NoError(t, err)

	require.NoError(t, WriteEnvelope(&buf, req))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, req.CorrelationID, got.CorrelationID)
	assert.Equal(t, MethodStatus, got.Method)

	var params StatusParams
	require.NoError(t, json.Unmarshal(got.Params, &params))
	assert.Equal(t, "myproj", params.Collection)
}

func TestEnvelope_ProgressRepliesShareCorrelationIDUntilTerminal(t *testing.T) {
	var buf bytes.Buffer
	corr := NewCorrelationID()

	p1, err := ReplyProgress(corr, map[string]int{"completed": 1})
	require.NoError(t, err)
	require.NoError(t, WriteEnvelope(&buf, p1))

	ok, err := ReplyOK(corr, map[string]int{"completed": 2})
	require.NoError(t, err)
	require.NoError(t, WriteEnvelope(&buf, ok))

	first, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.False(t, first.Terminal)
	assert.Equal(t, corr, first.CorrelationID)

	second, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.True(t, second.Terminal)
	assert.Equal(t, corr, second.CorrelationID)
}

func TestReadEnvelope_RejectsLengthPrefixAboveMax(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadEnvelope(&buf)
	assert.Error(t, err)
}

func TestReplyError_SetsTerminalAndWireError(t *testing.T) {
	env := ReplyError("corr-1", "BAD_INPUT_PATH", "unknown collection")
	assert.True(t, env.Terminal)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BAD_INPUT_PATH", env.Error.Code)
}
