package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/pkg/models"
)

// Handler executes a native-kind tool's entry point given the verbatim
// arguments JSON the model produced. It returns the tool's textual
// output; any error is wrapped into a "[ToolError] ..." string by
// Invoke, never propagated as a Go error across the loop boundary.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Dispatcher resolves non-built-in tool calls against a Registry:
// native kinds run a registered Handler by entry point; script kinds
// run in an external sandbox and always report unsupported here.
type Dispatcher struct {
	registry *Registry
	handlers map[string]Handler
}

// NewDispatcher builds a Dispatcher over registry with no handlers
// registered.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry, handlers: make(map[string]Handler)}
}

// RegisterHandler binds entryPoint to a native Handler.
func (d *Dispatcher) RegisterHandler(entryPoint string, h Handler) {
	d.handlers[entryPoint] = h
}

// ValidateSchema compiles desc.ParameterSchema as a JSON Schema document,
// rejecting descriptors whose schema is malformed before they are ever
// offered to a model.
func ValidateSchema(desc models.ToolDescriptor) error {
	if _, err := jsonschema.CompileString(desc.Name, string(desc.ParameterSchema)); err != nil {
		return relayerr.Wrap(relayerr.ValidationError, err, "compile tool parameter schema")
	}
	return nil
}

// Invoke dispatches a non-built-in tool call by name. recall_memory and
// store_memory are never passed here — the Agent Loop executes those
// directly per its built-in semantics.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args json.RawMessage) string {
	desc, ok := d.registry.Get(name)
	if !ok {
		return relayerr.AsToolErrorString("", fmt.Errorf("Unknown tool: %s", name))
	}

	switch desc.Kind {
	case models.ToolKindNative:
		handler, ok := d.handlers[desc.EntryPoint]
		if !ok {
			return relayerr.AsToolErrorString(name, fmt.Errorf("no handler registered for entry point %q", desc.EntryPoint))
		}
		out, err := safeInvoke(ctx, handler, args)
		if err != nil {
			return relayerr.AsToolErrorString(name, err)
		}
		return out
	default:
		return relayerr.AsToolErrorString(name, fmt.Errorf("tool kind %q requires an external sandbox not provided by this build", desc.Kind))
	}
}

// safeInvoke recovers a panicking Handler into an error so one
// misbehaving tool can never take down the loop's goroutine.
func safeInvoke(ctx context.Context, h Handler, args json.RawMessage) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, args)
}
