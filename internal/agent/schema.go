package agent

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/conductor/pkg/models"
)

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateArguments checks args against the tool's input schema. Tools
// without a schema accept any JSON object.
func validateArguments(tool models.Tool, args json.RawMessage) *models.ToolError {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return models.NewToolError(models.ToolErrorInvalidParameters, "arguments for %s are not valid JSON: %v", tool.Name, err)
	}
	if len(bytes.TrimSpace(tool.InputSchema)) == 0 {
		return nil
	}

	schema, err := compileSchema(tool.InputSchema)
	if err != nil {
		return models.NewToolError(models.ToolErrorSchema, "input schema for %s does not compile: %v", tool.Name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return models.NewToolError(models.ToolErrorInvalidParameters, "%s: %v", tool.Name, err)
	}
	return nil
}
