// ABOUTME: Thread-safe registry of tools keyed by name, announcing each tool to the model backend
// ABOUTME: Later registrations replace earlier ones; lookups copy the tool out before use

package packs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrToolExists indicates a tool with the same name is already registered.
var ErrToolExists = errors.New("tool already registered")

// Announcer is told about every registered tool so it can offer it to the model.
type Announcer interface {
	AnnounceTool(ctx context.Context, d Descriptor)
}

type entry struct {
	tool   Tool
	def    Descriptor
	packID string
}

// Registry maps tool names to tools.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*entry
	announcer Announcer
	logger    *slog.Logger
}

// NewRegistry creates a registry that announces tools to announcer, which may be nil.
func NewRegistry(announcer Announcer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]*entry),
		announcer: announcer,
		logger:    logger.With("component", "packs"),
	}
}

// Register adds tool to the registry, replacing any tool with the same name,
// and announces it.
func (r *Registry) Register(ctx context.Context, tool Tool) {
	_ = r.register(ctx, "", tool, false)
}

// RegisterUnique adds tool unless its name is taken.
func (r *Registry) RegisterUnique(ctx context.Context, tool Tool) error {
	return r.register(ctx, "", tool, true)
}

// RegisterPack registers every tool of the pack.
func (r *Registry) RegisterPack(ctx context.Context, pack *Pack) {
	for _, tool := range pack.Tools {
		_ = r.register(ctx, pack.ID, tool, false)
	}
	r.logger.Info("=== PACK REGISTERED ===",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
	)
}

func (r *Registry) register(ctx context.Context, packID string, tool Tool, unique bool) error {
	def := tool.Descriptor()

	r.mu.Lock()
	existing, replaced := r.tools[def.Name]
	if replaced && unique {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q (pack %q)", ErrToolExists, def.Name, existing.packID)
	}
	r.tools[def.Name] = &entry{tool: tool, def: def, packID: packID}
	total := len(r.tools)
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("tool replaced by newer registration", "tool_name", def.Name, "pack_id", packID)
	} else {
		r.logger.Info("=== TOOL REGISTERED ===", "tool_name", def.Name, "pack_id", packID, "total_tools", total)
	}

	if r.announcer != nil {
		r.announcer.AnnounceTool(ctx, def)
	}
	return nil
}

// Unregister removes the named tool and reports whether it existed.
// The model backend may still offer it; calls to it are then skipped.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()

	if ok {
		r.logger.Info("=== TOOL UNREGISTERED ===", "tool_name", name)
	}
	return ok
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Descriptors returns the descriptors of every registered tool sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.def)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
