// Package daemon implements the Daemon RPC layer (C12): a length-prefixed
// JSON protocol over a local stream socket, a single-reactor server
// dispatching to a bounded worker pool, and a client for standalone tools
// to reach a running daemon.
package daemon

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// RPC method names (§4.12 stable surface).
const (
	MethodQuery      = "query"
	MethodIndex      = "index"
	MethodWatchStart = "watch_start"
	MethodWatchStop  = "watch_stop"
	MethodStatus     = "status"
	MethodClearCache = "clear_cache"

	// MethodConsistencyCheck is additive: it does not change the stable
	// surface above, it only adds one more method to it.
	MethodConsistencyCheck = "consistency_check"
)

// maxEnvelopeSize bounds a single message against a corrupt length prefix;
// the largest legitimate payload is a status/query response, far short of
// this.
const maxEnvelopeSize = 64 << 20

// Envelope is one length-prefixed wire message. CorrelationID ties a
// request to its reply; index's progress stream reuses the request's
// CorrelationID across every reply until Terminal is set.
type Envelope struct {
	CorrelationID string          `json:"correlation_id"`
	Method        string          `json:"method,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *WireError      `json:"error,omitempty"`
	Terminal      bool            `json:"terminal,omitempty"`
}

// WireError is the on-the-wire form of a cidx error: a stable code plus a
// short message, never an internal stack or identifier.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewCorrelationID returns a fresh opaque correlation ID for a request.
func NewCorrelationID() string { return uuid.NewString() }

// NewRequest builds a request Envelope, marshaling params into Params.
func NewRequest(method string, params any) (Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Envelope{}, fmt.Errorf("daemon: marshal params: %w", err)
	}
	return Envelope{CorrelationID: NewCorrelationID(), Method: method, Params: raw}, nil
}

// ReplyOK builds a terminal success reply sharing req's correlation ID.
func ReplyOK(correlationID string, result any) (Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, fmt.Errorf("daemon: marshal result: %w", err)
	}
	return Envelope{CorrelationID: correlationID, Result: raw, Terminal: true}, nil
}

// ReplyProgress builds a non-terminal reply carrying one progress record.
func ReplyProgress(correlationID string, progress any) (Envelope, error) {
	raw, err := json.Marshal(progress)
	if err != nil {
		return Envelope{}, fmt.Errorf("daemon: marshal progress: %w", err)
	}
	return Envelope{CorrelationID: correlationID, Result: raw, Terminal: false}, nil
}

// ReplyError builds a terminal error reply.
func ReplyError(correlationID, code, message string) Envelope {
	return Envelope{CorrelationID: correlationID, Error: &WireError{Code: code, Message: message}, Terminal: true}
}

// WriteEnvelope frames env as a 4-byte big-endian length prefix followed by
// its JSON encoding.
func WriteEnvelope(w io.Writer, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("daemon: marshal envelope: %w", err)
	}
	if len(payload) > maxEnvelopeSize {
		return fmt.Errorf("daemon: envelope of %d bytes exceeds max message size", len(payload))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadEnvelope reads one length-prefixed envelope from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Envelope{}, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > maxEnvelopeSize {
		return Envelope{}, fmt.Errorf("daemon: envelope length %d exceeds max message size", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("daemon: unmarshal envelope: %w", err)
	}
	return env, nil
}
