package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/summit-p2p/summit/internal/constants"
)

// TestNewWiresEveryComponent exercises construction only: every subsystem
// must build successfully against a loopback interface without requiring
// any network I/O.
func TestNewWiresEveryComponent(t *testing.T) {
	d, err := New(Config{
		InterfaceName: "lo",
		Contract:      constants.ContractBulk,
		CacheRoot:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.id == nil {
		t.Fatal("expected a generated identity")
	}
	if d.gate == nil || d.dispatchTable == nil || d.sessions == nil {
		t.Fatal("expected core subsystems to be wired")
	}
}

// TestBindThenShutdown binds every socket and confirms a canceled context
// drains within the shutdown deadline without hanging.
func TestBindThenShutdown(t *testing.T) {
	root := t.TempDir()
	d, err := New(Config{
		InterfaceName: "lo",
		Contract:      constants.ContractBulk,
		CacheRoot:     root,
		ControlSocket: filepath.Join(root, "control.sock"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if d.ControlListener() == nil {
		t.Fatal("expected a bound control listener after Bind")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(constants.ShutdownDrainDeadline + 2*time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
