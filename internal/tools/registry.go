// Package tools implements the Tool Registry: a catalog of Tool
// Descriptors plus dispatch for tools other than the two built-ins,
// which the Agent Loop executes directly.
package tools

import (
	"sync"

	"github.com/relayhq/relay/pkg/models"
)

// Registry holds Tool Descriptors, keyed by name, with thread-safe
// registration and lookup. The two built-in tools are never stored here
// — they are synthesized on every AsLLMTools call.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]models.ToolDescriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]models.ToolDescriptor)}
}

// Register adds or replaces a descriptor by name.
func (r *Registry) Register(desc models.ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = desc
}

// Unregister removes a descriptor by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a descriptor by name.
func (r *Registry) Get(name string) (models.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Active returns every registered descriptor with Active set, in no
// particular order.
func (r *Registry) Active() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(r.tools))
	for _, d := range r.tools {
		if d.Active {
			out = append(out, d)
		}
	}
	return out
}

// All returns every registered descriptor regardless of Active, used by
// the Tool Index when populating its collection (embeds
// "built-ins plus all active tool descriptors" — callers filter further
// if they need inactive ones excluded).
func (r *Registry) All() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// AsLLMTools renders the two built-ins followed by every active
// descriptor as the wire shape sent to the model.
func (r *Registry) AsLLMTools() []models.LLMTool {
	builtins := models.BuiltinToolDescriptors()
	active := r.Active()
	out := make([]models.LLMTool, 0, len(builtins)+len(active))
	for _, d := range builtins {
		out = append(out, d.AsLLMTool())
	}
	for _, d := range active {
		out = append(out, d.AsLLMTool())
	}
	return out
}

// Lookup resolves name against the built-ins first, then the registry —
// the shape the Agent Loop needs to turn Tool Index ids back into
// descriptors it can render for the model.
func (r *Registry) Lookup(name string) (models.ToolDescriptor, bool) {
	for _, d := range models.BuiltinToolDescriptors() {
		if d.Name == name {
			return d, true
		}
	}
	return r.Get(name)
}
