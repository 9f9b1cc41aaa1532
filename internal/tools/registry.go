package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// SideEffect classifies what a tool touches; the executor and any policy
// layer gate on it.
type SideEffect string

const (
	SideEffectReadOnly        SideEffect = "read_only"
	SideEffectNetwork         SideEffect = "network"
	SideEffectFilesystemWrite SideEffect = "filesystem_write"
	SideEffectDangerous       SideEffect = "dangerous"
)

// Handler executes one validated tool call.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ArgSpec declares one argument of a tool's schema.
type ArgSpec struct {
	Name     string
	Type     string // string | int | number | bool | object | array
	Required bool

	// MaxLen bounds string arguments when positive.
	MaxLen int

	// Min/Max bound numeric arguments when both are set.
	Min, Max *float64
}

// ToolSpec is one registered tool.
type ToolSpec struct {
	Name                 string
	Description          string
	Args                 []ArgSpec
	Handler              Handler
	SideEffect           SideEffect
	RequiresConfirmation bool
	Enabled              bool
}

// Registry holds the named tool specifications the executor dispatches
// on. Lookup misses are a typed error, never a panic.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolSpec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*ToolSpec)}
}

// Register adds a tool. Registering the same name twice is an error.
func (r *Registry) Register(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if spec.Handler == nil {
		return fmt.Errorf("register tool %s: nil handler", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("register tool %s: %w", spec.Name, ErrDuplicateTool)
	}
	r.tools[spec.Name] = &spec
	return nil
}

// Get returns the named tool or ErrToolNotFound.
func (r *Registry) Get(name string) (*ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	return spec, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []*ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolSpec, 0, len(r.tools))
	for _, spec := range r.tools {
		out = append(out, spec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// ValidateArgs checks args against the spec's schema: required presence,
// JSON type, string length, numeric range. Unknown argument names are
// rejected so typos fail loudly instead of being silently ignored.
func ValidateArgs(spec *ToolSpec, args map[string]any) error {
	byName := make(map[string]ArgSpec, len(spec.Args))
	for _, a := range spec.Args {
		byName[a.Name] = a
	}
	for name := range args {
		if _, ok := byName[name]; !ok {
			return fmt.Errorf("unknown argument %q", name)
		}
	}
	for _, a := range spec.Args {
		val, present := args[a.Name]
		if !present {
			if a.Required {
				return fmt.Errorf("missing required argument %q", a.Name)
			}
			continue
		}
		if err := checkArgType(a, val); err != nil {
			return err
		}
	}
	return nil
}

func checkArgType(a ArgSpec, val any) error {
	switch a.Type {
	case "string":
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", a.Name)
		}
		if a.MaxLen > 0 && len(s) > a.MaxLen {
			return fmt.Errorf("argument %q exceeds %d characters", a.Name, a.MaxLen)
		}
	case "int":
		f, ok := asNumber(val)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("argument %q must be an integer", a.Name)
		}
		return checkRange(a, f)
	case "number":
		f, ok := asNumber(val)
		if !ok {
			return fmt.Errorf("argument %q must be a number", a.Name)
		}
		return checkRange(a, f)
	case "bool":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", a.Name)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("argument %q must be an object", a.Name)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("argument %q must be an array", a.Name)
		}
	default:
		return fmt.Errorf("argument %q has unsupported schema type %q", a.Name, a.Type)
	}
	return nil
}

func checkRange(a ArgSpec, f float64) error {
	if a.Min != nil && f < *a.Min {
		return fmt.Errorf("argument %q below minimum %v", a.Name, *a.Min)
	}
	if a.Max != nil && f > *a.Max {
		return fmt.Errorf("argument %q above maximum %v", a.Name, *a.Max)
	}
	return nil
}

// asNumber accepts the numeric shapes JSON decoding can produce.
func asNumber(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
