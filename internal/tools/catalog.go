// Package tools holds the operation catalog and the invoker that routes
// each call either into the caller's process or through the workspace
// daemon. Operation handlers are opaque callables registered ahead of time;
// the catalog never loads code at runtime.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/leonletto/anvil/internal/protocol"
)

// Handler executes one operation. A returned error is the operation's own
// business failure, not a transport or protocol problem.
type Handler func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error)

// Definition describes one operation. Identity is (Workflow, MCPName);
// CLIName and the kebab-cased MCPName alias are lookup keys only.
type Definition struct {
	CLIName     string
	MCPName     string
	Workflow    string
	Description string
	// Stateful operations depend on process-local state that must survive
	// across calls, so they always execute inside the daemon.
	Stateful bool
	Handler  Handler
}

// Catalog is an immutable name index over a definition set. Build it once
// per process; rebuild wholesale if the definition set changes.
type Catalog struct {
	defs    []*Definition
	byCLI   map[string]*Definition
	byMCP   map[string]*Definition
	byAlias map[string][]*Definition
}

// NewCatalog indexes the given definitions. Definitions with a duplicate
// (workflow, mcpName) identity are rejected.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		byCLI:   make(map[string]*Definition),
		byMCP:   make(map[string]*Definition),
		byAlias: make(map[string][]*Definition),
	}

	seen := make(map[string]bool)
	for i := range defs {
		def := &defs[i]
		if def.CLIName == "" || def.MCPName == "" || def.Workflow == "" {
			return nil, fmt.Errorf("definition %q missing cli name, mcp name, or workflow", def.MCPName)
		}
		identity := def.Workflow + "/" + def.MCPName
		if seen[identity] {
			return nil, fmt.Errorf("duplicate tool identity %s", identity)
		}
		seen[identity] = true

		cliKey := strings.ToLower(def.CLIName)
		if other, ok := c.byCLI[cliKey]; ok {
			return nil, fmt.Errorf("cli name %q claimed by both %s and %s", def.CLIName, other.Workflow, def.Workflow)
		}
		c.byCLI[cliKey] = def
		c.byMCP[strings.ToLower(def.MCPName)] = def

		alias := Kebab(def.MCPName)
		c.byAlias[alias] = append(c.byAlias[alias], def)
		c.defs = append(c.defs, def)
	}
	return c, nil
}

// Definitions returns every definition in registration order.
func (c *Catalog) Definitions() []*Definition {
	return c.defs
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// NotFoundError reports an operation name that matched nothing.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no tool named %q", e.Name)
}

// AmbiguousError reports an alias shared by several definitions. Candidates
// are the CLI names of every match, sorted; the resolver never silently
// picks one.
type AmbiguousError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("tool name %q is ambiguous: matches %s", e.Name, strings.Join(e.Candidates, ", "))
}

// Resolve maps an input string to exactly one definition.
//
// Order: exact CLI name, then the kebab-cased alias of the MCP name (an
// alias hit with several owners is ambiguous), then the raw MCP name.
// Matching is case-insensitive and the input is trimmed.
func (c *Catalog) Resolve(name string) (*Definition, error) {
	input := strings.ToLower(strings.TrimSpace(name))
	if input == "" {
		return nil, &NotFoundError{Name: name}
	}

	if def, ok := c.byCLI[input]; ok {
		return def, nil
	}

	if matches := c.byAlias[Kebab(input)]; len(matches) == 1 {
		return matches[0], nil
	} else if len(matches) > 1 {
		candidates := make([]string, len(matches))
		for i, m := range matches {
			candidates[i] = m.CLIName
		}
		sort.Strings(candidates)
		return nil, &AmbiguousError{Name: name, Candidates: candidates}
	}

	if def, ok := c.byMCP[input]; ok {
		return def, nil
	}

	return nil, &NotFoundError{Name: name}
}

// List returns the flattened catalog rows served by tool.list.
func (c *Catalog) List() []protocol.ToolListEntry {
	entries := make([]protocol.ToolListEntry, 0, len(c.defs))
	for _, def := range c.defs {
		entries = append(entries, protocol.ToolListEntry{
			Name:        def.CLIName,
			Workflow:    def.Workflow,
			Description: def.Description,
			Stateful:    def.Stateful,
		})
	}
	return entries
}

// Kebab lowers a name and replaces underscore runs with single dashes.
// "list_sims" and "LIST_SIMS" both become "list-sims".
func Kebab(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(lower))
	prevDash := false
	for _, r := range lower {
		if r == '_' || r == '-' || r == ' ' {
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
			continue
		}
		b.WriteRune(r)
		prevDash = false
	}
	return strings.TrimSuffix(b.String(), "-")
}
