// Package tools implements the tenant-scoped tool registry: a
// name-keyed capability table with argument validation and
// authorization predicates. Grounded on goa.design/goa-ai's
// runtime/agent/tools (ToolSpec/FieldIssue shape) and
// runtime/toolregistry/executor/executor.go (retry-hint derivation from
// tool error codes), per spec.md §4.3 and the Design Notes' "tool
// dispatch as a table, not monkey-patching" guidance.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/brianchuang/agent-sub000/planner"
)

// Issue is a single argument-validation failure, mirroring the teacher's
// FieldIssue.
type Issue struct {
	Field   string
	Message string
}

// Scope narrows listTools/execute to a tenant/workspace pair plus any
// caller attributes an authorization predicate wants to inspect.
type Scope struct {
	TenantID    string
	WorkspaceID string
	Attributes  map[string]string
}

// Registration is one entry in the registry. ValidateArgs must be pure;
// IsAuthorized defaults to "always allow" when nil.
type Registration struct {
	Name          string
	Description   string
	ArgsSchema    json.RawMessage // optional JSON Schema for Args, compiled at registration time
	ValidateArgs  func(args map[string]any) []Issue
	IsAuthorized  func(scope Scope) bool
	Execute       func(ctx context.Context, scope Scope, args map[string]any) (planner.ToolResult, error)
}

// Metadata is the planner-visible projection of a Registration.
type Metadata struct {
	Name        string
	Description string
}

// Registry is a tenant-scoped directory of named tools. Mutations
// (Register) are only valid at bootstrap; per spec.md §5's
// shared-resource policy, the registry is read-only at execution time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]compiledRegistration
	frozen  bool
}

type compiledRegistration struct {
	Registration
	schema *jsonschema.Schema
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]compiledRegistration)}
}

// Register adds a tool. Duplicate registrations fail. Registering after
// Freeze has been called fails, enforcing the bootstrap-only mutation
// rule.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("%w: tool name is required", planner.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: registry is frozen, cannot register %q post-bootstrap", planner.ErrValidation, reg.Name)
	}
	if _, exists := r.entries[reg.Name]; exists {
		return fmt.Errorf("%w: tool %q already registered", planner.ErrValidation, reg.Name)
	}
	c := compiledRegistration{Registration: reg}
	if len(reg.ArgsSchema) > 0 {
		schema, err := compileSchema(reg.Name, reg.ArgsSchema)
		if err != nil {
			return fmt.Errorf("compile schema for tool %q: %w", reg.Name, err)
		}
		c.schema = schema
	}
	r.entries[reg.Name] = c
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	resourceID := "tool://" + name + "/args.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resourceID)
}

// Freeze disallows further registrations, enforcing that registry
// mutation only happens at bootstrap.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// List returns metadata for tools whose IsAuthorized accepts scope
// (default allow), scoped to the tenant/workspace per spec.md §4.3.
func (r *Registry) List(scope Scope) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	for _, e := range r.entries {
		if e.IsAuthorized != nil && !e.IsAuthorized(scope) {
			continue
		}
		out = append(out, Metadata{Name: e.Name, Description: e.Description})
	}
	return out
}

// ExecuteInput is the input to Execute.
type ExecuteInput struct {
	Scope Scope
	Name  string
	Args  map[string]any
}

// Execute runs a tool_call. Returns a VALIDATION_ERROR for unknown
// tools, unauthorized scope, or a non-empty issue list, per spec.md
// §4.3.
func (r *Registry) Execute(ctx context.Context, in ExecuteInput) (planner.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.entries[in.Name]
	r.mu.RUnlock()
	if !ok {
		return planner.ToolResult{}, fmt.Errorf("%w: unknown tool %q", planner.ErrValidation, in.Name)
	}
	if e.IsAuthorized != nil && !e.IsAuthorized(in.Scope) {
		return planner.ToolResult{}, fmt.Errorf("%w: tool %q not authorized for scope %s/%s", planner.ErrValidation, in.Name, in.Scope.TenantID, in.Scope.WorkspaceID)
	}
	if issues := r.validate(e, in.Args); len(issues) > 0 {
		return planner.ToolResult{}, fmt.Errorf("%w: tool %q argument validation failed: %v", planner.ErrValidation, in.Name, issues)
	}
	if e.Execute == nil {
		return planner.ToolResult{}, fmt.Errorf("%w: tool %q has no execute function", planner.ErrValidation, in.Name)
	}
	return e.Execute(ctx, in.Scope, in.Args)
}

func (r *Registry) validate(e compiledRegistration, args map[string]any) []Issue {
	var issues []Issue
	if e.ValidateArgs != nil {
		issues = append(issues, e.ValidateArgs(args)...)
	}
	if e.schema != nil {
		if err := e.schema.Validate(toAnyDoc(args)); err != nil {
			issues = append(issues, Issue{Field: "args", Message: err.Error()})
		}
	}
	return issues
}

// toAnyDoc round-trips args through JSON so jsonschema.Validate sees
// plain JSON types (float64, not int) the way it would a decoded
// request body, matching registry/service.go's
// validatePayloadJSONAgainstSchema convention.
func toAnyDoc(args map[string]any) any {
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return args
	}
	return doc
}
