package model

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema describing a transcript message.
func Schema() ([]byte, error) {
	// ToolCall nests itself through ChildToolCalls, so definitions must stay
	// referenced.
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Message{})
	schema.Title = "Message"
	schema.Description = "One rendering unit of an agent transcript."

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}
