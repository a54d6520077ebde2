package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Nyukimin/picoagent/pkg/providers"
)

// Registry holds the explicitly registered tool set. Argument schemas are
// compiled once at registration so every call is validated before it
// reaches the tool.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

func (r *Registry) Register(t Tool) error {
	raw, err := json.Marshal(t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %s: invalid parameter schema: %w", t.Name(), err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(t.Name()+".json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("tool %s: invalid parameter schema: %w", t.Name(), err)
	}
	schema, err := compiler.Compile(t.Name() + ".json")
	if err != nil {
		return fmt.Errorf("tool %s: invalid parameter schema: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.compiled[t.Name()] = schema
	return nil
}

func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateArgs checks args against the tool's compiled schema.
func (r *Registry) ValidateArgs(name string, args map[string]interface{}) error {
	r.mu.RLock()
	schema := r.compiled[name]
	r.mu.RUnlock()
	if schema == nil {
		return fmt.Errorf("unknown tool: %s", name)
	}
	// Round-trip so numbers come back as float64 the way the validator
	// expects from decoded JSON.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %w", name, err)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %w", name, err)
	}
	if v == nil {
		v = map[string]interface{}{}
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %w", name, err)
	}
	return nil
}

// Definitions returns the provider-facing tool declarations.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  map[string]interface{}(t.Parameters()),
			},
		})
	}
	return defs
}
