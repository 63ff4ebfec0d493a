// Package tools holds the registry of function tools the relay advertises
// to the model and dispatches against when the model calls them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay/protocol"
)

// Handler executes one named tool. Execute receives the authenticated
// principal of the session and the decoded argument object; whatever it
// returns is JSON-encoded as the tool result. Errors never propagate to
// the session, they become {"error": ...} results so the model can speak
// the failure.
type Handler interface {
	Name() string
	Definition() protocol.ToolDefinition
	Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error)
}

type Registry struct {
	byName map[string]Handler
	names  []string
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{byName: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		name := strings.TrimSpace(h.Name())
		if name == "" {
			continue
		}
		if _, exists := r.byName[name]; !exists {
			r.names = append(r.names, name)
		}
		r.byName[name] = h
	}
	sort.Strings(r.names)
	return r
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Definitions is the full tool manifest in registration-name order, ready
// to embed in a session.update.
func (r *Registry) Definitions() []protocol.ToolDefinition {
	if r == nil {
		return nil
	}
	defs := make([]protocol.ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		defs = append(defs, r.byName[name].Definition())
	}
	return defs
}

// Invocation is one tool call lifted out of the upstream stream.
type Invocation struct {
	CallID    string
	Name      string
	Arguments string
}

// Dispatch resolves and runs a tool call, returning the JSON-encoded
// output string for the function_call_output item. It never returns an
// error: parse failures, unknown tools, and handler failures all encode as
// an {"error": message} object, so every call_id gets exactly one result.
func (r *Registry) Dispatch(ctx context.Context, principal *identity.Principal, inv Invocation) string {
	name := strings.TrimSpace(inv.Name)
	if r == nil || !r.Has(name) {
		return encodeResult(map[string]any{"error": "Unknown tool: " + name})
	}

	args, err := decodeArguments(inv.Arguments)
	if err != nil {
		return encodeResult(map[string]any{"error": fmt.Sprintf("invalid arguments for %s: %v", name, err)})
	}

	result, err := r.byName[name].Execute(ctx, principal, args)
	if err != nil {
		return encodeResult(map[string]any{"error": err.Error()})
	}
	if result == nil {
		result = map[string]any{"ok": true}
	}
	return encodeResult(result)
}

func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func encodeResult(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Tool results are plain maps and structs; a marshal failure
		// here means a handler returned something exotic.
		fallback, _ := json.Marshal(map[string]any{"error": "tool result could not be encoded"})
		return string(fallback)
	}
	return string(data)
}

// ObjectSchema builds the parameters block of a tool definition from
// property schemas and a required list.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
