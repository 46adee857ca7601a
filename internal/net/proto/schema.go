package proto

import "github.com/invopop/jsonschema"

// Schema describes every frame exchanged on /ws, one definition per frame.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	frames := []struct {
		name  string
		value any
	}{
		{name: "Welcome", value: Welcome{}},
		{name: "Lifecycle", value: Lifecycle{}},
		{name: "HeartbeatAck", value: heartbeatFrame{}},
		{name: "ClientMessage", value: ClientMessage{}},
	}

	schema := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "libblitz wire protocol",
		Description: "Frames sent between the session authority and its replicas",
		Definitions: jsonschema.Definitions{},
	}
	for _, frame := range frames {
		def := reflector.Reflect(frame.value)
		def.Version = ""
		def.ID = ""
		schema.Definitions[frame.name] = def
		schema.OneOf = append(schema.OneOf, &jsonschema.Schema{Ref: "#/$defs/" + frame.name})
	}
	return schema
}
