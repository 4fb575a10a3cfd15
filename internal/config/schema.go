package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

var schemaReflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// Schema reflects the config file structure into a JSON Schema document,
// indented for direct display or editor integration.
func Schema() (json.RawMessage, error) {
	schema := schemaReflector.Reflect(&Config{})
	schema.Title = "rely configuration"
	schema.Description = "Provider credentials and per-provider retry policies."

	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config schema: %w", err)
	}
	return raw, nil
}
