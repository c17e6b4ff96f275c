package engine

import "reflect"

// FieldKind is the declared runtime type of a schema field, used to
// drive best-effort value coercion (§4.6 step 2).
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindBool   FieldKind = "bool"
	KindObject FieldKind = "object"
	KindList   FieldKind = "list"
	KindAny    FieldKind = "any"
)

// FieldSchema declares one input field of a block.
type FieldSchema struct {
	Name       string
	Kind       FieldKind
	Required   bool
	Default    any
	HasDefault bool

	// Credential marks this field as holding a CredentialsMetaInput;
	// its value is an object with at least {"id": ..., "provider": ...,
	// "type": ...} and the engine acquires a credential lock for it
	// before block execution (§4.2 step 3, §5).
	Credential bool
}

// InputSchema declares the required fields, types and credential
// fields for one Block (§3, §4.6). It holds no static-merge rules:
// static merging follows each Link's IsStatic flag.
type InputSchema struct {
	Fields []FieldSchema
}

// CredentialFields returns the names of fields declared as credentials.
func (s *InputSchema) CredentialFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Credential {
			out = append(out, f.Name)
		}
	}
	return out
}

// field looks up a declared field by name.
func (s *InputSchema) field(name string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// GetInputDefaults merges the schema's declared defaults with the
// node's authored input_default, node-level values taking precedence
// (§4.6 step 4).
func (s *InputSchema) GetInputDefaults(nodeDefault Data) Data {
	out := Data{}
	for _, f := range s.Fields {
		if f.HasDefault {
			out[f.Name] = f.Default
		}
	}
	for k, v := range nodeDefault {
		out[k] = v
	}
	return out
}

// GetMissingLinks reports which required inbound links have not yet
// delivered a value into data (§4.6 step 3).
func (s *InputSchema) GetMissingLinks(data Data, links []Link) []string {
	var missing []string
	for _, l := range links {
		if _, ok := data[l.SinkName]; !ok {
			missing = append(missing, l.SinkName)
		}
	}
	return missing
}

// GetMissingInput reports which required schema fields are absent from
// data after default-merging (§4.6 step 5).
func (s *InputSchema) GetMissingInput(data Data) []string {
	var missing []string
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if _, ok := data[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// GetMismatchError validates data's values against the declared kinds,
// returning a human-readable error on the first mismatch found, or
// "" if everything matches (§4.6 step 6).
func (s *InputSchema) GetMismatchError(data Data) string {
	for _, f := range s.Fields {
		v, ok := data[f.Name]
		if !ok || v == nil {
			continue
		}
		if !kindMatches(f.Kind, v) {
			return "field '" + f.Name + "' has wrong type"
		}
	}
	return ""
}

func kindMatches(kind FieldKind, v any) bool {
	switch kind {
	case KindAny, "":
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		switch v.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case KindFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindList:
		rv := reflect.ValueOf(v)
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	default:
		return true
	}
}

// Convert coerces value toward kind on a best-effort basis, mirroring
// the original's `convert(value, data_type)` call: integers widen to
// float64, floats convert to int64 by truncating toward zero, and
// strings are not parsed into numbers. Any other value is returned
// unchanged.
func Convert(value any, kind FieldKind) any {
	switch kind {
	case KindString:
		if s, ok := value.(string); ok {
			return s
		}
	case KindFloat:
		switch n := value.(type) {
		case int:
			return float64(n)
		case int32:
			return float64(n)
		case int64:
			return float64(n)
		}
	case KindInt:
		switch n := value.(type) {
		case float64:
			return int64(n)
		case float32:
			return int64(n)
		}
	}
	return value
}
