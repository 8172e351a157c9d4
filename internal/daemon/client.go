package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/leonletto/anvil/internal/protocol"
	"github.com/leonletto/anvil/internal/tools"
	"github.com/leonletto/anvil/internal/wire"
)

// probeTimeout bounds the liveness dial used by IsRunning and the
// stale-socket check at daemon boot.
const probeTimeout = 2 * time.Second

// requestTimeout bounds one full request/response round trip.
const requestTimeout = 30 * time.Second

// ErrDaemonNotRunning indicates no daemon answered on the socket path.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Client talks to a daemon over its unix socket. Each call opens a fresh
// connection, so a Client carries no state and is safe for concurrent use.
type Client struct {
	socketPath string
}

// NewClient creates a client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// IsRunning reports whether a daemon currently answers on the socket.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Call sends one request and decodes its result into out. A protocol
// error from the daemon is returned as *protocol.Error.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if err := wire.WriteFrame(conn, req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	for {
		msg, err := wire.ReadFrame(conn)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		var resp protocol.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		// A response for a different id cannot belong to this call since
		// the connection is ours alone; skip it rather than failing.
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if isNotRunning(err) {
			return nil, ErrDaemonNotRunning
		}
		return nil, fmt.Errorf("dial %s: %w", c.socketPath, err)
	}
	return conn, nil
}

func isNotRunning(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, os.ErrNotExist)
}

// Status fetches the daemon's status snapshot.
func (c *Client) Status(ctx context.Context) (protocol.StatusResult, error) {
	var result protocol.StatusResult
	err := c.Call(ctx, protocol.MethodDaemonStatus, nil, &result)
	return result, err
}

// Stop asks the daemon to shut down. The daemon acknowledges before it
// begins stopping, so a nil error does not mean the process has exited.
func (c *Client) Stop(ctx context.Context) error {
	var result protocol.StopResult
	return c.Call(ctx, protocol.MethodDaemonStop, nil, &result)
}

// ListTools fetches the daemon's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]protocol.ToolListEntry, error) {
	var entries []protocol.ToolListEntry
	err := c.Call(ctx, protocol.MethodToolList, nil, &entries)
	return entries, err
}

// InvokeTool runs a tool inside the daemon. Transport failures come back
// as *tools.InfraError so callers can tell them from tool results.
func (c *Client) InvokeTool(ctx context.Context, tool string, args map[string]string) (protocol.ToolInvokeResult, error) {
	var result protocol.ToolInvokeResult
	params := protocol.ToolInvokeParams{Tool: tool, Args: args}
	if err := c.Call(ctx, protocol.MethodToolInvoke, params, &result); err != nil {
		return protocol.ToolInvokeResult{}, wrapTransport("tool.invoke", err)
	}
	return result, nil
}

// InvokeBridged runs a bridged tool inside the daemon.
func (c *Client) InvokeBridged(ctx context.Context, tool string, args map[string]string) (protocol.ToolInvokeResult, error) {
	var result protocol.ToolInvokeResult
	params := protocol.ToolInvokeParams{Tool: tool, Args: args}
	if err := c.Call(ctx, protocol.MethodBridgeInvoke, params, &result); err != nil {
		return protocol.ToolInvokeResult{}, wrapTransport("bridge.invoke", err)
	}
	return result, nil
}

// History fetches recorded invocations, optionally filtered by tool.
func (c *Client) History(ctx context.Context, tool string, limit int) ([]protocol.ToolHistoryEntry, error) {
	var entries []protocol.ToolHistoryEntry
	params := protocol.ToolHistoryParams{Tool: tool, Limit: limit}
	err := c.Call(ctx, protocol.MethodToolHistory, params, &entries)
	return entries, err
}

// ListBridged fetches the daemon's view of the bridge directory.
func (c *Client) ListBridged(ctx context.Context) ([]protocol.BridgeListEntry, error) {
	var entries []protocol.BridgeListEntry
	err := c.Call(ctx, protocol.MethodBridgeList, nil, &entries)
	return entries, err
}

// wrapTransport marks dial and framing failures as infrastructure errors.
// Protocol errors pass through untouched; they are answers, not outages.
func wrapTransport(op string, err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return err
	}
	return &tools.InfraError{Op: op, Err: err}
}
