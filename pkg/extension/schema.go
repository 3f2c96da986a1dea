package extension

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a Go struct type into the map[string]any JSON
// Schema shape that ToolDescriptor.Schema expects, so in-process
// (builtin) tools can describe their arguments the same way an MCP
// server would advertise its own input schema, instead of hand-writing
// a schema literal per tool. Grounded on the teacher's own
// functiontool.generateSchema helper.
func SchemaFor(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
