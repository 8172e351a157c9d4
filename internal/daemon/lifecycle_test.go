package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leonletto/anvil/internal/registry"
)

// captureExit swaps the process exit seam for the duration of a test.
func captureExit(t *testing.T) chan int {
	t.Helper()
	codes := make(chan int, 1)
	orig := exitFunc
	exitFunc = func(code int) { codes <- code }
	t.Cleanup(func() { exitFunc = orig })
	return codes
}

func newTestLifecycle(t *testing.T, dir string) (*Lifecycle, *Client) {
	t.Helper()

	opts := ServerOptions{
		SocketPath:    filepath.Join(dir, "daemon.sock"),
		WorkspaceRoot: dir,
		WorkspaceKey:  "lifecyclekey",
		Version:       "test",
		Invoker:       newTestInvoker(t),
		Activity:      newTestActivity(),
		Logger:        testLogger(),
	}
	server := NewServer(opts)
	entry := registry.Entry{
		WorkspaceKey:  opts.WorkspaceKey,
		WorkspaceRoot: dir,
		SocketPath:    opts.SocketPath,
		Version:       "test",
	}
	lc := NewLifecycle(server, entry, filepath.Join(dir, "daemon.lock"), 0, testLogger())
	return lc, NewClient(opts.SocketPath)
}

func TestLifecycleRunAndShutdown(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	lc, client := newTestLifecycle(t, dir)

	done := make(chan error, 1)
	go func() { done <- lc.Run(context.Background()) }()

	waitForRunning(t, client)

	entry, err := registry.Read("lifecyclekey")
	if err != nil {
		t.Fatalf("registry entry missing while running: %v", err)
	}
	if entry.PID != os.Getpid() {
		t.Errorf("registry PID = %d, want %d", entry.PID, os.Getpid())
	}

	lc.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	if _, err := registry.Read("lifecyclekey"); !os.IsNotExist(err) {
		t.Errorf("registry entry still present after shutdown: %v", err)
	}
	if client.IsRunning() {
		t.Error("socket still answering after shutdown")
	}
}

func TestLifecycleSecondInstanceRefused(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	first, client := newTestLifecycle(t, dir)
	done := make(chan error, 1)
	go func() { done <- first.Run(context.Background()) }()
	t.Cleanup(func() {
		first.Shutdown()
		<-done
	})

	waitForRunning(t, client)

	second, _ := newTestLifecycle(t, dir)
	if err := second.Run(context.Background()); err == nil {
		t.Fatal("second lifecycle for the same workspace must fail")
	}
}

func TestLifecycleStopOverSocket(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	lc, client := newTestLifecycle(t, dir)
	done := make(chan error, 1)
	go func() { done <- lc.Run(context.Background()) }()

	waitForRunning(t, client)

	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("daemon.stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after daemon.stop")
	}
}

func TestLifecycleContextCancellation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	lc, client := newTestLifecycle(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	waitForRunning(t, client)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after context cancellation")
	}
}

func TestShutdownWatchdogForcesExitWhenDrainStalls(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	exitCodes := captureExit(t)

	lc, client := newTestLifecycle(t, dir)
	lc.watchdogTimeout = 30 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- lc.Run(context.Background()) }()
	waitForRunning(t, client)

	// An idle connection the drain cannot finish until the peer hangs up.
	conn, err := net.Dial("unix", filepath.Join(dir, "daemon.sock"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	time.Sleep(50 * time.Millisecond)

	lc.Shutdown()

	select {
	case code := <-exitCodes:
		if code != 1 {
			t.Errorf("forced exit code = %d, want 1", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire while shutdown was stalled")
	}

	if _, err := registry.Read("lifecyclekey"); !os.IsNotExist(err) {
		t.Errorf("registry entry still present after forced exit: %v", err)
	}

	_ = conn.Close()
	<-done
}

func TestShutdownWatchdogDisarmedOnCleanExit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	exitCodes := captureExit(t)

	lc, client := newTestLifecycle(t, dir)
	lc.watchdogTimeout = 500 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- lc.Run(context.Background()) }()
	waitForRunning(t, client)

	lc.Shutdown()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	time.Sleep(600 * time.Millisecond)
	select {
	case code := <-exitCodes:
		t.Errorf("watchdog fired after a clean shutdown with code %d", code)
	default:
	}
}

func waitForRunning(t *testing.T, client *Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client.IsRunning() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("daemon never came up")
}
