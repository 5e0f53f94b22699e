package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cidx-dev/cidx/internal/orchestrator"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// Server listens on a local stream socket (Unix domain socket) and
// dispatches length-prefixed Envelopes to a bounded worker pool (§4.12: "a
// single reactor dispatches requests to a worker pool"). One goroutine
// accepts connections; each connection is read by its own goroutine, which
// handles every request it decodes itself, but only after taking one of
// cfg.WorkerPoolSize semaphore slots, so a burst of connections cannot run
// unbounded concurrent work.
type Server struct {
	cfg     Config
	handler RequestHandler
	logger  *slog.Logger

	listener net.Listener
	started  time.Time
	sem      chan struct{}

	mu       sync.Mutex
	shutdown bool
	connWG   sync.WaitGroup
}

// NewServer builds a Server over cfg. Call SetHandler before ListenAndServe.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.WorkerPoolSize),
	}
}

// SetHandler wires the RequestHandler every dispatched Envelope is served
// against.
func (s *Server) SetHandler(h RequestHandler) { s.handler = h }

// ListenAndServe opens the socket and blocks until ctx is cancelled or a
// fatal accept error occurs. On return the socket file is removed.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", s.cfg.SocketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.cfg.SocketPath)
	}()

	s.logger.Info("daemon listening", slog.String("socket", s.cfg.SocketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.logger.Error("daemon: accept error", slog.Any("err", err))
			continue
		}

		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGracePeriod):
		s.logger.Warn("daemon: shutdown grace period elapsed with connections still open")
	}

	return ctx.Err()
}

// handleConnection reads one Envelope per request from conn and dispatches
// each onto the worker pool, writing every reply (terminal or progress)
// back on the same connection. A connection serves requests sequentially:
// the next ReadEnvelope only runs once the current request's terminal
// reply has been written, matching a simple request/reply (or
// request/progress-stream/terminal) client loop.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(env Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return WriteEnvelope(conn, env)
	}

	idle := s.cfg.IdleTimeout
	if idle <= 0 {
		idle = 10 * time.Minute
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			s.logger.Warn("daemon: set read deadline", slog.Any("err", err))
		}

		req, err := ReadEnvelope(conn)
		if err != nil {
			return
		}

		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.RequestTimeout + s.cfg.ShutdownGracePeriod)); err != nil {
			s.logger.Warn("daemon: set write deadline", slog.Any("err", err))
		}

		s.dispatch(ctx, req, write)
	}
}

// dispatch runs req on the worker pool (blocking acquisition bounds
// in-flight work to cfg.WorkerPoolSize) and writes its reply(ies).
func (s *Server) dispatch(ctx context.Context, req Envelope, write func(Envelope) error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeCancelledByCaller, "daemon shutting down"))
		return
	}
	defer func() { <-s.sem }()

	reqCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	if s.handler == nil {
		_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeInternal, "daemon has no handler configured"))
		return
	}

	switch req.Method {
	case MethodQuery:
		s.handleQuery(reqCtx, req, write)
	case MethodIndex:
		s.handleIndex(reqCtx, req, write)
	case MethodWatchStart:
		s.handleWatch(reqCtx, req, write, s.handler.WatchStart)
	case MethodWatchStop:
		s.handleWatch(reqCtx, req, write, s.handler.WatchStop)
	case MethodStatus:
		s.handleStatus(reqCtx, req, write)
	case MethodClearCache:
		s.handleClearCache(reqCtx, req, write)
	case MethodConsistencyCheck:
		s.handleConsistencyCheck(reqCtx, req, write)
	default:
		_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeBadInputPath, "unknown method: "+req.Method))
	}
}

func (s *Server) handleQuery(ctx context.Context, req Envelope, write func(Envelope) error) {
	var params QueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeBadInputPath, "invalid query params"))
		return
	}

	result, err := s.handler.Query(ctx, params)
	if err != nil {
		_ = write(errorReply(req.CorrelationID, err))
		return
	}
	s.replyOK(req.CorrelationID, result, write)
}

// handleIndex streams one ReplyProgress per orchestrator.Progress snapshot
// before the terminal ReplyOK/ReplyError, all sharing req's correlation ID
// (§4.12's progress-stream requirement).
func (s *Server) handleIndex(ctx context.Context, req Envelope, write func(Envelope) error) {
	var params IndexParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeBadInputPath, "invalid index params"))
		return
	}

	onProgress := func(p orchestrator.Progress) {
		env, err := ReplyProgress(req.CorrelationID, p)
		if err != nil {
			return
		}
		_ = write(env)
	}

	result, err := s.handler.Index(ctx, params, onProgress)
	if err != nil {
		_ = write(errorReply(req.CorrelationID, err))
		return
	}
	s.replyOK(req.CorrelationID, result, write)
}

func (s *Server) handleWatch(ctx context.Context, req Envelope, write func(Envelope) error, fn func(context.Context, string) error) {
	var params WatchParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeBadInputPath, "invalid watch params"))
		return
	}

	if err := fn(ctx, params.Collection); err != nil {
		_ = write(errorReply(req.CorrelationID, err))
		return
	}
	s.replyOK(req.CorrelationID, AckResult{OK: true}, write)
}

func (s *Server) handleStatus(ctx context.Context, req Envelope, write func(Envelope) error) {
	var params StatusParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeBadInputPath, "invalid status params"))
			return
		}
	}

	result, err := s.handler.Status(ctx, params.Collection)
	if err != nil {
		_ = write(errorReply(req.CorrelationID, err))
		return
	}
	s.replyOK(req.CorrelationID, result, write)
}

func (s *Server) handleClearCache(ctx context.Context, req Envelope, write func(Envelope) error) {
	var params ClearCacheParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeBadInputPath, "invalid clear_cache params"))
			return
		}
	}

	if err := s.handler.ClearCache(ctx, params.Collection); err != nil {
		_ = write(errorReply(req.CorrelationID, err))
		return
	}
	s.replyOK(req.CorrelationID, AckResult{OK: true}, write)
}

func (s *Server) handleConsistencyCheck(ctx context.Context, req Envelope, write func(Envelope) error) {
	var params ConsistencyCheckParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		_ = write(ReplyError(req.CorrelationID, cidxerrors.CodeBadInputPath, "invalid consistency_check params"))
		return
	}

	result, err := s.handler.ConsistencyCheck(ctx, params.Collection)
	if err != nil {
		_ = write(errorReply(req.CorrelationID, err))
		return
	}
	s.replyOK(req.CorrelationID, result, write)
}

func (s *Server) replyOK(correlationID string, result any, write func(Envelope) error) {
	env, err := ReplyOK(correlationID, result)
	if err != nil {
		_ = write(ReplyError(correlationID, cidxerrors.CodeInternal, "encode reply: "+err.Error()))
		return
	}
	_ = write(env)
}

// errorReply maps a cidx *errors.Error onto the wire, falling back to a
// generic internal code for anything else (context.Canceled surfaces as a
// cancellation, everything unrecognized as internal).
func errorReply(correlationID string, err error) Envelope {
	var cerr *cidxerrors.Error
	if errors.As(err, &cerr) {
		return ReplyError(correlationID, cerr.Code, cerr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReplyError(correlationID, cidxerrors.CodeCancelledByCaller, err.Error())
	}
	return ReplyError(correlationID, cidxerrors.CodeInternal, err.Error())
}

// Close stops the server and closes its listener immediately, without
// waiting out ShutdownGracePeriod.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
