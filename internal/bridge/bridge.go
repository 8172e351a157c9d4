// Package bridge discovers tools an IDE companion publishes to the daemon.
// The companion drops one JSON descriptor per tool into the workspace's
// .anvil/bridge directory; the daemon rescans on every bridge.list and
// bridge.invoke, so tools appear and disappear without a daemon restart.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leonletto/anvil/internal/protocol"
	"github.com/leonletto/anvil/internal/tools"
)

// Descriptor is one bridged tool as published by the IDE companion.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Command     []string `json:"command"`
	// Source is the descriptor file path, filled in during discovery.
	Source string `json:"-"`
}

// Discover reads every *.json descriptor in dir. Unreadable or malformed
// descriptors are skipped; a missing directory simply means no bridged
// tools. Results are sorted by name.
func Discover(dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bridge directory: %w", err)
	}

	var descriptors []Descriptor
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path) //nolint:gosec // G304 - path inside the workspace bridge dir
		if err != nil {
			continue
		}
		var d Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		if d.Name == "" || len(d.Command) == 0 {
			continue
		}
		d.Source = path
		descriptors = append(descriptors, d)
	}

	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors, nil
}

// Find locates a descriptor by name, case-insensitively.
func Find(dir, name string) (Descriptor, error) {
	descriptors, err := Discover(dir)
	if err != nil {
		return Descriptor{}, err
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, d := range descriptors {
		if strings.ToLower(d.Name) == want {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("no bridged tool named %q", name)
}

// List renders discovery results as protocol entries.
func List(dir string) ([]protocol.BridgeListEntry, error) {
	descriptors, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]protocol.BridgeListEntry, 0, len(descriptors))
	for _, d := range descriptors {
		entries = append(entries, protocol.BridgeListEntry{
			Name:        d.Name,
			Description: d.Description,
			Source:      d.Source,
		})
	}
	return entries, nil
}

// Invoke runs a bridged tool's command through the given runner, appending
// args as deterministic --key value pairs. The caller is responsible for
// holding an activity lease for the duration.
func Invoke(ctx context.Context, runner tools.Runner, d Descriptor, args map[string]string) (protocol.ToolInvokeResult, error) {
	cmdArgs := append([]string{}, d.Command[1:]...)
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmdArgs = append(cmdArgs, "--"+strings.TrimPrefix(k, "--"), args[k])
	}

	out, err := runner.Run(ctx, d.Command[0], cmdArgs...)
	if err != nil {
		return protocol.ToolInvokeResult{}, err
	}
	return protocol.ToolInvokeResult{Content: out}, nil
}
