// Package registry implements the five tools a scheduler run may invoke,
// each validated against the policy engine before it touches the filesystem
// or a subprocess. All invocations funnel through a single dispatch; no
// error or panic escapes as anything but a structured Result.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaiho/agentloop/internal/policy"
	"github.com/kaiho/agentloop/internal/provider"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is the outcome of one tool execution, serialized into the Tool
// message's content the scheduler appends to the conversation.
type Result struct {
	OK      bool   `json:"ok"`
	Tool    string `json:"tool"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Func is the signature every tool implementation satisfies. It receives
// the raw JSON arguments (already checked against the tool's schema, but
// not yet decoded) and the purpose the scheduler is running
// under, and returns the result payload or an error — no panic ever
// escapes to the caller (see Execute).
type Func func(ctx context.Context, purpose policy.Purpose, args json.RawMessage) (any, error)

type entry struct {
	name   string
	kind   policy.ToolKind
	fn     Func
	def    provider.ToolDefinition
	schema *jsonschema.Schema
}

// Registry holds the registered tools and dispatches execution by name.
type Registry struct {
	engine  *policy.Engine
	entries []entry
	byName  map[string]int
}

// New builds a registry with the five built-in tools wired against engine.
func New(engine *policy.Engine) (*Registry, error) {
	r := &Registry{engine: engine, byName: make(map[string]int)}
	if err := r.registerBuiltins(); err != nil {
		return nil, err
	}
	return r, nil
}

// register compiles the tool's parameter schema at registration time so a
// malformed schema is caught immediately instead of at first call.
func (r *Registry) register(name, description string, schema json.RawMessage, kind policy.ToolKind, fn Func) error {
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("registry: tool %q has an invalid parameter schema: %w", name, err)
	}
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, entry{
		name:   name,
		kind:   kind,
		fn:     fn,
		schema: compiled,
		def: provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        name,
				Description: description,
				Parameters:  schema,
			},
		},
	})
	return nil
}

// Definitions returns tool definitions in stable registration order, the
// shape sent to the model on every request.
func (r *Registry) Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, len(r.entries))
	for i, e := range r.entries {
		defs[i] = e.def
	}
	return defs
}

// Kind reports a registered tool's budget-accounting kind.
func (r *Registry) Kind(name string) (policy.ToolKind, bool) {
	i, ok := r.byName[name]
	if !ok {
		return "", false
	}
	return r.entries[i].kind, true
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Execute runs the named tool against raw arguments and purpose, validating
// the arguments against the tool's declared schema first. Every failure —
// unknown tool, schema violation, policy rejection, execution error — comes
// back as a Result with OK=false; nothing panics or escapes as a Go error,
// because a tool result always occupies exactly one tool message in the
// conversation.
func (r *Registry) Execute(ctx context.Context, name string, purpose policy.Purpose, args json.RawMessage) Result {
	i, ok := r.byName[name]
	if !ok {
		return Result{Tool: name, Error: fmt.Sprintf("unknown tool: %s", name)}
	}
	e := r.entries[i]

	var decoded any
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return Result{Tool: name, Error: fmt.Sprintf("invalid arguments: %v", err)}
	}
	if err := e.schema.Validate(decoded); err != nil {
		return Result{Tool: name, Error: fmt.Sprintf("arguments do not match schema: %v", err)}
	}

	out, err := safeCall(ctx, e.fn, purpose, args)
	if err != nil {
		var perr *policy.Error
		if errors.As(err, &perr) {
			return Result{Tool: name, Error: err.Error(), Details: map[string]string{"rule": string(perr.Rule)}}
		}
		return Result{Tool: name, Error: err.Error()}
	}
	return Result{OK: true, Tool: name, Result: out}
}

// safeCall recovers a panicking tool implementation into an error result,
// since a coding mistake in one tool must not take down the whole run.
func safeCall(ctx context.Context, fn Func, purpose policy.Purpose, args json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return fn(ctx, purpose, args)
}
