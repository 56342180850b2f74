package mcpregistry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nexuscli/agent/pkg/models"
)

// schemaCache memoizes compiled schemas by their raw bytes, since the same
// McpFunction.Parameters document is validated against on every call for a
// tool that may be invoked many times in one session.
var schemaCache sync.Map

// validateParameters checks call arguments against fn's declared parameter
// schema before the call reaches a provider. A function with no schema (or
// an empty one) is unchecked — schema is optional per spec §6's McpFunction
// shape, and external servers may omit it.
func validateParameters(fn models.McpFunction, params json.RawMessage) error {
	if len(fn.Parameters) == 0 {
		return nil
	}

	schema, err := compileSchema(fn.Parameters)
	if err != nil {
		return fmt.Errorf("compile parameter schema for %q: %w", fn.Name, err)
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode arguments for %q: %w", fn.Name, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for %q: %w", fn.Name, err)
	}
	return nil
}

// ValidateSchemas compiles every registered function's parameter schema and
// reports the ones that fail to compile, for spec §4.j's "/mcp validate"
// command. A function with no schema is not a problem — schema is optional.
func (r *Registry) ValidateSchemas() []string {
	r.mu.RLock()
	providers := append([]ToolProvider(nil), r.providers...)
	r.mu.RUnlock()

	var problems []string
	for _, p := range providers {
		for _, fn := range p.Functions() {
			if len(fn.Parameters) == 0 {
				continue
			}
			if _, err := compileSchema(fn.Parameters); err != nil {
				problems = append(problems, fmt.Sprintf("%s/%s: %v", p.ServerName(), fn.Name, err))
			}
		}
	}
	return problems
}

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("mcpfunction.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
