// Package daemon implements the per-workspace background process: the
// socket server, the connect-per-call client, process lifecycle, and the
// idle shutdown monitor.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leonletto/anvil/internal/activity"
	"github.com/leonletto/anvil/internal/bridge"
	"github.com/leonletto/anvil/internal/history"
	"github.com/leonletto/anvil/internal/protocol"
	"github.com/leonletto/anvil/internal/tools"
	"github.com/leonletto/anvil/internal/wire"
)

// stopFlushDelay gives the daemon.stop response frame time to reach the
// client before the listener goes away.
const stopFlushDelay = 100 * time.Millisecond

// drainTimeout bounds how long Stop waits for in-flight connections.
const drainTimeout = 5 * time.Second

var peerUIDMatchesCurrentUserFn = peerUIDMatchesCurrentUser

// ServerOptions configure a Server. Invoker, Activity, and Logger are
// required; History and BridgeDir are optional features.
type ServerOptions struct {
	SocketPath    string
	WorkspaceRoot string
	WorkspaceKey  string
	LogPath       string
	Version       string
	Invoker       *tools.Invoker
	Activity      *activity.Registry
	History       *history.Store
	BridgeDir     string
	BridgeRunner  tools.Runner
	Logger        *slog.Logger
}

// Server accepts socket connections and dispatches framed requests.
type Server struct {
	opts     ServerOptions
	listener net.Listener
	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup

	startTime    time.Time
	inFlight     atomic.Int64
	lastActivity atomic.Int64 // unix nanos

	// requestStop is set by the lifecycle before Start; daemon.stop and the
	// idle monitor call it to begin graceful shutdown.
	requestStop func()
}

// NewServer creates a server. It does not bind until Start.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		opts:      opts,
		startTime: time.Now(),
	}
	s.markActivity()
	return s
}

// SetStopFunc installs the shutdown trigger. Must be called before Start.
func (s *Server) SetStopFunc(fn func()) {
	s.requestStop = fn
}

// Start binds the socket and begins accepting connections. If a live
// daemon already answers on the socket path, Start fails instead of
// removing the peer's socket; only a stale socket file is cleaned up.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.opts.SocketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := s.removeStaleSocket(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.SocketPath, err)
	}
	if err := os.Chmod(s.opts.SocketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}
	s.listener = listener

	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener, drains in-flight connections with a timeout,
// and removes the socket file.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.opts.Logger.Warn("close listener", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.opts.Logger.Warn("timed out draining connections", "timeout", drainTimeout)
	}

	if err := os.Remove(s.opts.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}

// InFlight returns the number of requests currently being dispatched.
func (s *Server) InFlight() int {
	return int(s.inFlight.Load())
}

// LastActivity returns when a request last started or finished.
func (s *Server) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Server) markActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// removeStaleSocket deletes a leftover socket file, but only after proving
// no live daemon answers on it.
func (s *Server) removeStaleSocket() error {
	if _, err := os.Stat(s.opts.SocketPath); err != nil {
		return nil //nolint:nilerr // no socket file, nothing to do
	}

	conn, err := net.DialTimeout("unix", s.opts.SocketPath, probeTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("daemon already running on %s", s.opts.SocketPath)
	}

	if err := os.Remove(s.opts.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				return
			}
			s.opts.Logger.Warn("accept", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection reads framed requests off one connection until the peer
// hangs up. Requests on one connection are handled in order; concurrency
// comes from concurrent connections.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	if ok, err := peerUIDMatchesCurrentUserFn(conn); err != nil || !ok {
		s.opts.Logger.Warn("rejecting connection with unverified peer", "error", err)
		return
	}

	decoder := wire.NewDecoder()
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, decodeErr := decoder.Feed(buf[:n])
			if decodeErr != nil {
				s.opts.Logger.Debug("frame decode", "error", decodeErr)
				resp := protocol.ErrorResponse("", protocol.CodeBadRequest, decodeErr.Error())
				_ = wire.WriteFrame(conn, resp)
			}
			for _, msg := range msgs {
				if !s.serveRequest(ctx, conn, msg) {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// serveRequest dispatches one decoded message and writes exactly one
// response. Returns false when the connection should close.
func (s *Server) serveRequest(ctx context.Context, conn net.Conn, msg json.RawMessage) bool {
	resp, after := s.dispatch(ctx, msg)
	if err := wire.WriteFrame(conn, resp); err != nil {
		s.opts.Logger.Debug("write response", "error", err)
		return false
	}
	if after != nil {
		after()
	}
	return true
}

// dispatch decodes and executes one request. The returned after func, if
// any, runs once the response has been written; daemon.stop uses it to
// begin shutdown only after its acknowledgment is on the wire.
func (s *Server) dispatch(ctx context.Context, msg json.RawMessage) (resp protocol.Response, after func()) {
	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		s.opts.Logger.Debug("malformed request", "error", err)
		return protocol.ErrorResponse("", protocol.CodeBadRequest, "malformed request envelope"), nil
	}
	if req.Version != protocol.Version {
		s.opts.Logger.Debug("unsupported protocol version", "version", req.Version)
		return protocol.ErrorResponse(req.ID, protocol.CodeBadRequest,
			fmt.Sprintf("unsupported protocol version %d (want %d)", req.Version, protocol.Version)), nil
	}

	s.inFlight.Add(1)
	s.markActivity()
	defer func() {
		s.inFlight.Add(-1)
		s.markActivity()
		if r := recover(); r != nil {
			s.opts.Logger.Error("panic in dispatch", "method", req.Method, "panic", r,
				"stack", string(debug.Stack()))
			resp = protocol.ErrorResponse(req.ID, protocol.CodeInternal, fmt.Sprint(r))
			after = nil
		}
	}()

	switch req.Method {
	case protocol.MethodDaemonStatus:
		return s.handleStatus(req), nil
	case protocol.MethodDaemonStop:
		return s.handleStop(req)
	case protocol.MethodToolList:
		return s.handleToolList(req), nil
	case protocol.MethodToolInvoke:
		return s.handleToolInvoke(ctx, req), nil
	case protocol.MethodToolHistory:
		return s.handleToolHistory(req), nil
	case protocol.MethodBridgeList:
		return s.handleBridgeList(req), nil
	case protocol.MethodBridgeInvoke:
		return s.handleBridgeInvoke(ctx, req), nil
	default:
		s.opts.Logger.Debug("unknown method", "method", req.Method)
		return protocol.ErrorResponse(req.ID, protocol.CodeBadRequest,
			fmt.Sprintf("unknown method %q", req.Method)), nil
	}
}

func (s *Server) handleStatus(req protocol.Request) protocol.Response {
	result := protocol.StatusResult{
		PID:           os.Getpid(),
		SocketPath:    s.opts.SocketPath,
		LogPath:       s.opts.LogPath,
		StartedAt:     s.startTime,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		ToolCount:     s.opts.Invoker.Catalog().Len(),
		WorkspaceKey:  s.opts.WorkspaceKey,
		WorkspaceRoot: s.opts.WorkspaceRoot,
		Version:       s.opts.Version,
		InFlight:      int(s.inFlight.Load()),
		ActivityTotal: s.opts.Activity.Total(),
	}
	resp, err := protocol.ResultResponse(req.ID, result)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error())
	}
	return resp
}

func (s *Server) handleStop(req protocol.Request) (protocol.Response, func()) {
	resp, err := protocol.ResultResponse(req.ID, protocol.StopResult{Stopping: true})
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error()), nil
	}
	return resp, func() {
		time.AfterFunc(stopFlushDelay, func() {
			s.opts.Logger.Info("stop requested over socket")
			if s.requestStop != nil {
				s.requestStop()
			}
		})
	}
}

func (s *Server) handleToolList(req protocol.Request) protocol.Response {
	resp, err := protocol.ResultResponse(req.ID, s.opts.Invoker.Catalog().List())
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error())
	}
	return resp
}

func (s *Server) handleToolInvoke(ctx context.Context, req protocol.Request) protocol.Response {
	var params protocol.ToolInvokeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.ErrorResponse(req.ID, protocol.CodeBadRequest, "invalid tool.invoke params")
		}
	}
	if params.Tool == "" {
		return protocol.ErrorResponse(req.ID, protocol.CodeBadRequest, "params.tool is required")
	}

	start := time.Now()
	// Direct execution: the daemon never re-enters its own routing branch.
	result, err := s.opts.Invoker.RunDirect(ctx, params.Tool, params.Args)
	if err != nil {
		return resolutionErrorResponse(req.ID, err)
	}

	s.recordHistory(params, result, time.Since(start))
	resp, err := protocol.ResultResponse(req.ID, result)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error())
	}
	return resp
}

func (s *Server) recordHistory(params protocol.ToolInvokeParams, result protocol.ToolInvokeResult, took time.Duration) {
	if s.opts.History == nil {
		return
	}
	def, err := s.opts.Invoker.Catalog().Resolve(params.Tool)
	if err != nil {
		return
	}
	argsJSON := ""
	if len(params.Args) > 0 {
		if data, err := json.Marshal(params.Args); err == nil {
			argsJSON = string(data)
		}
	}
	entry := protocol.ToolHistoryEntry{
		Tool:       def.CLIName,
		Workflow:   def.Workflow,
		Args:       argsJSON,
		IsError:    result.IsError,
		DurationMs: took.Milliseconds(),
		InvokedAt:  time.Now().UTC(),
	}
	if err := s.opts.History.Record(entry); err != nil {
		s.opts.Logger.Warn("record invocation history", "error", err)
	}
}

func (s *Server) handleToolHistory(req protocol.Request) protocol.Response {
	if s.opts.History == nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeNotFound, "invocation history is not enabled")
	}
	var params protocol.ToolHistoryParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.ErrorResponse(req.ID, protocol.CodeBadRequest, "invalid tool.history params")
		}
	}

	entries, err := s.opts.History.List(params.Tool, params.Limit)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error())
	}
	resp, err := protocol.ResultResponse(req.ID, entries)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error())
	}
	return resp
}

func (s *Server) handleBridgeList(req protocol.Request) protocol.Response {
	entries, err := bridge.List(s.opts.BridgeDir)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error())
	}
	resp, err := protocol.ResultResponse(req.ID, entries)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error())
	}
	return resp
}

func (s *Server) handleBridgeInvoke(ctx context.Context, req protocol.Request) protocol.Response {
	var params protocol.ToolInvokeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.ErrorResponse(req.ID, protocol.CodeBadRequest, "invalid bridge.invoke params")
		}
	}
	if params.Tool == "" {
		return protocol.ErrorResponse(req.ID, protocol.CodeBadRequest, "params.tool is required")
	}

	descriptor, err := bridge.Find(s.opts.BridgeDir, params.Tool)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeNotFound, err.Error())
	}

	// Bridged work blocks idle shutdown for its duration.
	lease := s.opts.Activity.Acquire("bridge:" + descriptor.Name)
	defer lease.Release()

	result, err := bridge.Invoke(ctx, s.opts.BridgeRunner, descriptor, params.Args)
	if err != nil {
		// A bridged command that would not run is a machinery failure, not
		// a tool result; the compiled-in catalog has no equivalent path.
		return protocol.ErrorResponse(req.ID, protocol.CodeToolFailed, err.Error())
	}
	resp, err := protocol.ResultResponse(req.ID, result)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternal, err.Error())
	}
	return resp
}

// resolutionErrorResponse maps catalog resolution failures onto protocol
// error codes.
func resolutionErrorResponse(id string, err error) protocol.Response {
	switch e := err.(type) { //nolint:errorlint // resolution errors are returned directly, never wrapped
	case *tools.NotFoundError:
		return protocol.ErrorResponse(id, protocol.CodeNotFound, e.Error())
	case *tools.AmbiguousError:
		return protocol.ErrorResponseData(id, protocol.CodeAmbiguousTool, e.Error(), e.Candidates)
	default:
		return protocol.ErrorResponse(id, protocol.CodeInternal, err.Error())
	}
}
