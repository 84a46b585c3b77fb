package toolexec

import (
	"fmt"
	"sync"

	"github.com/riskops/amlguard/pkg/agent"
	"github.com/xeipuuv/gojsonschema"
)

// Registry holds the fixed set of tool definitions with compiled argument
// schemas. Arguments are validated against the schema before any dispatch;
// a mismatch never reaches the wire.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool definition and compiles its argument schema.
func (r *Registry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty for tool %s", def.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s.%s", param.Type, def.Name, param.Name)
		}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema()))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	return nil
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	return def, ok
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Specs resolves the named subset of tools into provider tool specs.
func (r *Registry) Specs(names ...string) ([]agent.ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]agent.ToolSpec, 0, len(names))
	for _, name := range names {
		def, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool not found: %s", name)
		}
		specs = append(specs, agent.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema(),
		})
	}

	return specs, nil
}

// Validate checks arguments against the tool's compiled schema.
func (r *Registry) Validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		details := []string{}
		for _, verr := range result.Errors() {
			details = append(details, verr.String())
		}
		return fmt.Errorf("argument mismatch for tool '%s': %v", name, details)
	}

	return nil
}

// Builtin returns a registry preloaded with the analytics tool set.
func Builtin() (*Registry, error) {
	r := NewRegistry()

	defs := []ToolDefinition{
		{
			Name:        "get_profile",
			Description: "Gets profile information for a specific merchant ID.",
			Parameters: []ToolParameter{
				{Name: "subject_id", Type: "string", Description: "The unique ID of the merchant.", Required: true},
			},
		},
		{
			Name:        "get_aggregated_stats",
			Description: "Calculates aggregated transaction statistics for a merchant within an ISO format date range (YYYY-MM-DDTHH:MM:SS).",
			Parameters: []ToolParameter{
				{Name: "subject_id", Type: "string", Description: "The unique ID of the merchant.", Required: true},
				{Name: "start", Type: "string", Description: "The start date/time in ISO format (YYYY-MM-DDTHH:MM:SS).", Required: true},
				{Name: "end", Type: "string", Description: "The end date/time in ISO format (YYYY-MM-DDTHH:MM:SS).", Required: true},
			},
		},
		{
			Name:        "get_flagged_examples",
			Description: "Retrieves examples of potentially anomalous transactions (e.g., high value) for a merchant within a date range.",
			Parameters: []ToolParameter{
				{Name: "subject_id", Type: "string", Description: "The unique ID of the merchant.", Required: true},
				{Name: "start", Type: "string", Description: "The start date/time in ISO format (YYYY-MM-DDTHH:MM:SS).", Required: true},
				{Name: "end", Type: "string", Description: "The end date/time in ISO format (YYYY-MM-DDTHH:MM:SS).", Required: true},
				{Name: "threshold", Type: "number", Description: "Minimum transaction amount to consider anomalous.", Default: 1000.0},
			},
		},
		{
			Name:        "set_risk_status",
			Description: "Updates the merchant's risk status based on analysis.",
			Parameters: []ToolParameter{
				{Name: "subject_id", Type: "string", Description: "The unique ID of the merchant.", Required: true},
				{Name: "new_status", Type: "string", Description: "The new risk status (e.g., 'High', 'Medium', 'Low', 'Watchlist').", Required: true},
				{Name: "reason_code", Type: "string", Description: "A brief code or reason for the status change.", Required: true},
			},
		},
		{
			Name:        "open_review_case",
			Description: "Creates a manual review case for AML compliance when high risk is detected.",
			Parameters: []ToolParameter{
				{Name: "subject_id", Type: "string", Description: "The unique ID of the merchant requiring review.", Required: true},
				{Name: "category", Type: "string", Description: "The assessed risk category (e.g., 'High', 'Critical').", Required: true},
				{Name: "summary", Type: "string", Description: "A concise summary of the reasons for escalation.", Required: true},
				{Name: "indicators", Type: "array", Description: "List of specific ML/TL indicators detected.", Required: true},
			},
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}

	return r, nil
}
