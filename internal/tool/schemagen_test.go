package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type calcArgs struct {
	Operator string  `json:"operator" jsonschema:"enum=add,enum=sub,required"`
	A        float64 `json:"a" jsonschema:"required"`
	B        float64 `json:"b" jsonschema:"required"`
}

func calcTool() Tool {
	def := DefinitionFromStruct("calculate", "performs a basic arithmetic operation", &calcArgs{})
	return Func{
		Def: def,
		Call: func(ctx context.Context, rawArgs string) (string, error) {
			var args calcArgs
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return "Error: invalid arguments", nil
			}
			var result float64
			switch args.Operator {
			case "add":
				result = args.A + args.B
			case "sub":
				result = args.A - args.B
			default:
				return "Error: unknown operator", nil
			}
			encoded, _ := json.Marshal(result)
			return string(encoded), nil
		},
	}
}

func TestDefinitionFromStruct_GeneratesObjectSchema(t *testing.T) {
	def := DefinitionFromStruct("calculate", "performs a basic arithmetic operation", &calcArgs{})

	var schema map[string]any
	if err := json.Unmarshal(def.Parameters, &schema); err != nil {
		t.Fatalf("generated schema is not valid JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("schema type = %v, want object", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties map: %v", schema)
	}
	for _, field := range []string{"operator", "a", "b"} {
		if _, ok := props[field]; !ok {
			t.Errorf("schema missing property %q: %v", field, props)
		}
	}
}

func TestDefinitionFromStruct_WiredIntoRegistry(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	if err := r.Register(calcTool()); err != nil {
		t.Fatal(err)
	}

	out := r.Execute(context.Background(), "calculate", `{"operator":"add","a":2,"b":3}`)
	if out != "5" {
		t.Errorf("calculate(add, 2, 3) = %q, want 5", out)
	}

	out = r.Execute(context.Background(), "calculate", `{"a":2,"b":3}`)
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("expected validation error for missing operator, got %q", out)
	}
}
