// Package registry maintains the process-wide set of registered tool
// modules and resolves tool names to their handlers.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/mcpkit/mcpkit/pkg/events"
	"github.com/mcpkit/mcpkit/pkg/mcp"
)

// NamespaceSeparator joins a module namespace and a tool name into the
// fully-qualified name exposed to clients.
const NamespaceSeparator = "."

var toolNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// ConflictError reports a fully-qualified tool name that is already taken.
type ConflictError struct {
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// Handle identifies one registration. Unregistering through the handle
// removes every tool it introduced atomically.
type Handle struct {
	id    int
	names []string
}

type entry struct {
	module mcp.ToolModule
	def    mcp.Tool
	local  string
}

// Registry is the tool registry. Reads (Resolve, List) are concurrent;
// registrations and de-registrations are serialized. The registry owns the
// ToolModule handles; nothing else shuts modules down.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]entry
	modules map[int]mcp.ToolModule
	nextID  int

	bus *events.Bus
}

// New creates an empty registry. The bus may be nil.
func New(bus *events.Bus) *Registry {
	return &Registry{
		tools:   make(map[string]entry),
		modules: make(map[int]mcp.ToolModule),
		bus:     bus,
	}
}

// Register adds a module and all of its tools. Tool names are prefixed with
// the module namespace unless the namespace is empty (legacy root tools).
// The whole registration is rejected on the first invalid name, invalid
// version, or conflict; a failed Register changes nothing.
func (r *Registry) Register(module mcp.ToolModule) (*Handle, error) {
	ns := module.Namespace()
	if ns != "" && !toolNameRE.MatchString(ns) {
		return nil, fmt.Errorf("invalid namespace %q", ns)
	}

	defs := module.Tools()
	staged := make(map[string]entry, len(defs))
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		if !toolNameRE.MatchString(def.Name) {
			return nil, fmt.Errorf("invalid tool name %q", def.Name)
		}
		if def.Version != "" {
			if _, err := semver.NewVersion(def.Version); err != nil {
				return nil, fmt.Errorf("tool %q version %q: %w", def.Name, def.Version, err)
			}
		}
		fq := def.Name
		if ns != "" {
			fq = ns + NamespaceSeparator + def.Name
		}
		if _, dup := staged[fq]; dup {
			return nil, &ConflictError{Name: fq}
		}
		qualified := def
		qualified.Name = fq
		staged[fq] = entry{module: module, def: qualified, local: def.Name}
		names = append(names, fq)
	}

	r.mu.Lock()
	for fq := range staged {
		if _, taken := r.tools[fq]; taken {
			r.mu.Unlock()
			return nil, &ConflictError{Name: fq}
		}
	}
	for fq, e := range staged {
		r.tools[fq] = e
	}
	r.nextID++
	handle := &Handle{id: r.nextID, names: names}
	r.modules[handle.id] = module
	r.mu.Unlock()

	if r.bus != nil {
		for _, fq := range names {
			r.bus.Publish(events.Event{Type: events.ToolRegistered, Tool: fq})
		}
	}
	return handle, nil
}

// Unregister removes every tool the handle registered. The module is not
// shut down; that happens once, at server stop, via Shutdown.
func (r *Registry) Unregister(handle *Handle) {
	if handle == nil {
		return
	}
	r.mu.Lock()
	for _, fq := range handle.names {
		delete(r.tools, fq)
	}
	delete(r.modules, handle.id)
	r.mu.Unlock()

	if r.bus != nil {
		for _, fq := range handle.names {
			r.bus.Publish(events.Event{Type: events.ToolUnregistered, Tool: fq})
		}
	}
}

// List returns a snapshot of every registered tool definition, sorted by
// fully-qualified name.
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	tools := make([]mcp.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		tools = append(tools, e.def)
	}
	r.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Resolve maps a fully-qualified (or root) tool name to its module and the
// module-local tool name.
func (r *Registry) Resolve(name string) (mcp.ToolModule, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, "", false
	}
	return e.module, e.local, true
}

// Definition returns the definition for a fully-qualified tool name.
func (r *Registry) Definition(name string) (mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.def, ok
}

// Shutdown stops every registered module. Modules are required to make
// Shutdown idempotent, so calling this twice is harmless.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	modules := make([]mcp.ToolModule, 0, len(r.modules))
	for _, m := range r.modules {
		modules = append(modules, m)
	}
	r.modules = make(map[int]mcp.ToolModule)
	r.tools = make(map[string]entry)
	r.mu.Unlock()

	for _, m := range modules {
		m.Shutdown()
	}
}
