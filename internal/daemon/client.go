package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/cidx-dev/cidx/internal/orchestrator"
)

// Client dials a running daemon's socket and round-trips Envelopes.
// A Client is one short-lived connection per call: it does not pool or
// reuse connections, although the server's handleConnection loop would
// serve further sequential requests on the same connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient builds a Client from cfg's socket path and request timeout.
func NewClient(cfg Config) *Client {
	return &Client{socketPath: cfg.SocketPath, timeout: cfg.RequestTimeout}
}

// IsRunning reports whether a daemon is accepting connections on the
// configured socket.
func (c *Client) IsRunning() bool {
	conn, err := c.dial()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("daemon: connect to %s: %w", c.socketPath, err)
	}
	return conn, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return d
}

// call sends one request and returns the first (and, for non-streaming
// methods, only) terminal reply. onProgress, if non-nil, is invoked for
// every non-terminal reply sharing the request's correlation ID before the
// terminal reply arrives (used by Index).
func (c *Client) call(ctx context.Context, method string, params any, onProgress func(Envelope)) (Envelope, error) {
	conn, err := c.dial()
	if err != nil {
		return Envelope{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(c.deadline(ctx)); err != nil {
		return Envelope{}, fmt.Errorf("daemon: set deadline: %w", err)
	}

	req, err := NewRequest(method, params)
	if err != nil {
		return Envelope{}, err
	}
	if err := WriteEnvelope(conn, req); err != nil {
		return Envelope{}, fmt.Errorf("daemon: send request: %w", err)
	}

	for {
		reply, err := ReadEnvelope(conn)
		if err != nil {
			return Envelope{}, fmt.Errorf("daemon: read reply: %w", err)
		}
		if reply.Terminal {
			return reply, nil
		}
		if onProgress != nil {
			onProgress(reply)
		}
	}
}

func decodeResult[T any](env Envelope) (T, error) {
	var out T
	if env.Error != nil {
		return out, fmt.Errorf("daemon: %s: %s", env.Error.Code, env.Error.Message)
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return out, fmt.Errorf("daemon: decode result: %w", err)
	}
	return out, nil
}

// Query runs one query against collection through the daemon.
func (c *Client) Query(ctx context.Context, params QueryParams) (QueryResult, error) {
	reply, err := c.call(ctx, MethodQuery, params, nil)
	if err != nil {
		return QueryResult{}, err
	}
	return decodeResult[QueryResult](reply)
}

// Index runs one indexing cycle through the daemon, invoking onProgress for
// every orchestrator.Progress snapshot streamed before the terminal reply.
func (c *Client) Index(ctx context.Context, params IndexParams, onProgress func(orchestrator.Progress)) (IndexResult, error) {
	reply, err := c.call(ctx, MethodIndex, params, func(env Envelope) {
		if onProgress == nil {
			return
		}
		var p orchestrator.Progress
		if err := json.Unmarshal(env.Result, &p); err == nil {
			onProgress(p)
		}
	})
	if err != nil {
		return IndexResult{}, err
	}
	return decodeResult[IndexResult](reply)
}

// WatchStart asks the daemon to begin watching collection.
func (c *Client) WatchStart(ctx context.Context, collection string) error {
	reply, err := c.call(ctx, MethodWatchStart, WatchParams{Collection: collection}, nil)
	if err != nil {
		return err
	}
	_, err = decodeResult[AckResult](reply)
	return err
}

// WatchStop asks the daemon to stop watching collection.
func (c *Client) WatchStop(ctx context.Context, collection string) error {
	reply, err := c.call(ctx, MethodWatchStop, WatchParams{Collection: collection}, nil)
	if err != nil {
		return err
	}
	_, err = decodeResult[AckResult](reply)
	return err
}

// Status retrieves daemon-wide status, or one collection's status when
// collection is non-empty.
func (c *Client) Status(ctx context.Context, collection string) (StatusResult, error) {
	reply, err := c.call(ctx, MethodStatus, StatusParams{Collection: collection}, nil)
	if err != nil {
		return StatusResult{}, err
	}
	return decodeResult[StatusResult](reply)
}

// ClearCache evicts collection from the daemon's cache, or every
// collection when collection is empty.
func (c *Client) ClearCache(ctx context.Context, collection string) error {
	reply, err := c.call(ctx, MethodClearCache, ClearCacheParams{Collection: collection}, nil)
	if err != nil {
		return err
	}
	_, err = decodeResult[AckResult](reply)
	return err
}

// ConsistencyCheck asks the daemon to compare collection's point, HNSW, and
// FTS counts.
func (c *Client) ConsistencyCheck(ctx context.Context, collection string) (ConsistencyCheckResult, error) {
	reply, err := c.call(ctx, MethodConsistencyCheck, ConsistencyCheckParams{Collection: collection}, nil)
	if err != nil {
		return ConsistencyCheckResult{}, err
	}
	return decodeResult[ConsistencyCheckResult](reply)
}
