package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// DefinitionFromStruct generates a harness.ToolDefinition's Parameters
// schema from a Go struct via reflection, for built-in test tools whose
// argument shape is more convenient to express as a struct than as
// hand-written JSON Schema (SPEC_FULL.md §3 "Schema validation").
//
// args should be a pointer to the zero value of the struct, e.g.
// DefinitionFromStruct("echo", "...", &echoArgs{}).
func DefinitionFromStruct(name, description string, args any) harness.ToolDefinition {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(args)
	raw, err := json.Marshal(schema)
	if err != nil {
		raw = []byte(`{"type":"object","properties":{}}`)
	}
	return harness.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  raw,
	}
}
