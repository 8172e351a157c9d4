package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/leonletto/anvil/internal/tools"
)

func TestClientNoDaemon(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))

	if client.IsRunning() {
		t.Error("IsRunning = true with no socket")
	}

	_, err := client.Status(context.Background())
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Errorf("Status error = %v, want ErrDaemonNotRunning", err)
	}
}

func TestClientInvokeTransportFailureIsInfra(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))

	_, err := client.InvokeTool(context.Background(), "echo", nil)
	if !tools.IsInfra(err) {
		t.Errorf("InvokeTool error = %v, want infrastructure error", err)
	}

	_, err = client.InvokeBridged(context.Background(), "anything", nil)
	if !tools.IsInfra(err) {
		t.Errorf("InvokeBridged error = %v, want infrastructure error", err)
	}
}

func TestClientProtocolErrorIsNotInfra(t *testing.T) {
	fx := startTestServer(t, nil)

	_, err := fx.client.InvokeTool(context.Background(), "no-such-tool", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if tools.IsInfra(err) {
		t.Errorf("protocol error classified as infrastructure: %v", err)
	}
}

func TestClientCanceledContext(t *testing.T) {
	fx := startTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fx.client.Status(ctx); err == nil {
		t.Error("expected error with canceled context")
	}
}
