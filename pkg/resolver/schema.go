package resolver

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema reflects a JSON schema from a Go type's struct tags.
// The schema is inlined (no $ref/$id) so it can be pasted into an LLM
// prompt as-is.
func generateSchema[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("schema reflection failed: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("schema decode failed: %v", err))
	}
	return out
}

// schemaJSON renders a schema for prompt inclusion.
func schemaJSON(schema map[string]any) string {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
