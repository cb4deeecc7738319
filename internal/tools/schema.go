// ABOUTME: JSON Schema generation for tool inputs.
// ABOUTME: Reflects Go input structs with invopop/jsonschema into inline object schemas.

package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// InputSchema returns the inline JSON Schema of T. It panics if the schema
// cannot be encoded, which only happens for unsupported Go types.
func InputSchema[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(new(T))
	s.Version = ""
	s.ID = ""

	out, err := json.Marshal(s)
	if err != nil {
		panic("encoding tool input schema: " + err.Error())
	}
	return out
}
