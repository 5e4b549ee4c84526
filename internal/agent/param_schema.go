package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache memoizes compiled JSON schemas by their raw source, avoiding
// recompilation on every tool invocation.
var schemaCache sync.Map

func compileParamSchema(name string, schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateToolParams validates raw tool-call parameters against a tool's
// declared JSON Schema, per spec.md §4.5's parameter-schema enforcement.
// An empty schema is treated as "accepts anything".
func ValidateToolParams(toolName string, schema []byte, params json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileParamSchema(toolName, schema)
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", toolName, err)
	}

	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode params for tool %q: %w", toolName, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("invalid params for tool %q: %w", toolName, err)
	}
	return nil
}
