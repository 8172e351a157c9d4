package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDescriptor(t *testing.T, dir, file, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "refresh.json",
		`{"name": "ide-refresh", "description": "Reload the IDE index", "command": ["idectl", "refresh"]}`)
	writeDescriptor(t, dir, "open.json",
		`{"name": "ide-open", "command": ["idectl", "open"]}`)
	// Malformed, incomplete, and non-JSON files are all skipped.
	writeDescriptor(t, dir, "broken.json", `{nope`)
	writeDescriptor(t, dir, "nameless.json", `{"command": ["x"]}`)
	writeDescriptor(t, dir, "notes.txt", `not a descriptor`)

	descriptors, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(descriptors))
	}
	// Sorted by name.
	if descriptors[0].Name != "ide-open" || descriptors[1].Name != "ide-refresh" {
		t.Errorf("order = %s, %s", descriptors[0].Name, descriptors[1].Name)
	}
	if descriptors[1].Source == "" {
		t.Error("source path not recorded")
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	descriptors, err := Discover(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if descriptors != nil {
		t.Errorf("descriptors = %v, want nil", descriptors)
	}
}

func TestFindCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "refresh.json",
		`{"name": "ide-refresh", "command": ["idectl", "refresh"]}`)

	d, err := Find(dir, "  IDE-Refresh ")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if d.Name != "ide-refresh" {
		t.Errorf("name = %q", d.Name)
	}

	if _, err := Find(dir, "missing"); err == nil {
		t.Fatal("missing tool found")
	}
}

type recordingRunner struct {
	name string
	args []string
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	r.name = name
	r.args = args
	return "done", nil
}

func TestInvoke(t *testing.T) {
	runner := &recordingRunner{}
	d := Descriptor{Name: "ide-refresh", Command: []string{"idectl", "refresh", "--quiet"}}

	result, err := Invoke(context.Background(), runner, d, map[string]string{"scope": "project"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Content != "done" {
		t.Errorf("content = %q", result.Content)
	}
	if runner.name != "idectl" {
		t.Errorf("command = %q", runner.name)
	}
	want := "refresh --quiet --scope project"
	if got := strings.Join(runner.args, " "); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}
