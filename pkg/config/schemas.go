package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/pipewright/pipewright/pkg/flow"
)

// SchemaRegistry manages CUE schemas for topology validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

var (
	defaultRegistry     *SchemaRegistry
	defaultRegistryOnce sync.Once
)

// DefaultSchemas returns the shared registry with the built-in schemas.
func DefaultSchemas() *SchemaRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewSchemaRegistry()
	})
	return defaultRegistry
}

// NewSchemaRegistry creates a schema registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	_ = sr.RegisterSchema("topology", builtinTopologySchema)
	return sr
}

// RegisterSchema compiles and registers a CUE schema under the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema by unifying
// the encoded data with the schema definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Topology"))
	if !def.Exists() {
		def = schema
	}
	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateTopology validates a topology against the topology schema.
func (sr *SchemaRegistry) ValidateTopology(ctx context.Context, topology *flow.Topology) error {
	return sr.ValidateAgainstSchema(ctx, "topology", topology)
}

// builtinTopologySchema constrains the shape of a topology document. The
// name references between processors, services and connections are checked
// separately by the planner; the schema guards structure and formats.
const builtinTopologySchema = `
#Topology: {
	// name identifies the topology in logs and the run journal
	name: string & =~"^[a-z0-9][a-z0-9-]*$"

	// pattern is the pattern family
	pattern?: "cdc" | "outbox" | "custom"

	group: {
		name:      string & =~"^[a-z0-9][a-z0-9-]*$"
		comments?: string
	}

	parameters?: {
		name?:        string & =~"^[a-z0-9][a-z0-9-]*$"
		description?: string
		parameters?: [...{
			name:         string & !=""
			value?:       string
			description?: string
			sensitive?:   bool
		}]
	}

	services?: [...{
		name:        string & =~"^[a-z0-9][a-z0-9-]*$"
		type:        string & =~"^[a-zA-Z0-9_.]+$"
		properties?: {[string]: string}
	}]

	processors?: [...{
		name:                 string & =~"^[a-z0-9][a-z0-9-]*$"
		type:                 string & =~"^[a-zA-Z0-9_.]+$"
		scheduling_period?:   string
		scheduling_strategy?: "TIMER_DRIVEN" | "CRON_DRIVEN"
		execution_node?:      "ALL" | "PRIMARY"
		auto_terminate?: [...string]
		properties?: {[string]: string}
		comments?: string
	}]

	connections?: [...{
		name?:       string
		source:      string & !=""
		destination: string & !=""
		relationships: [...string] & [_, ...]
		back_pressure_objects?: int & >=0
		back_pressure_size?:    string
	}]
}
`
