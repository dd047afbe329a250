package tools

import (
	"fmt"
	"math"
	"time"
)

// ArgType is the primitive type of a tool argument.
type ArgType string

const (
	TypeString    ArgType = "string"
	TypeInteger   ArgType = "integer"
	TypeTimestamp ArgType = "timestamp" // ISO 8601 string, validated to time.Time
)

// Arg declares a single tool argument.
type Arg struct {
	Name        string
	Type        ArgType
	Description string
	Required    bool
	Default     any // Applied when the argument is absent. nil = no default.
	Max         int // For integers: inclusive upper bound, values above are clamped. 0 = unbounded.
}

// Schema is a declarative argument schema. Model-supplied arguments are
// untrusted structured input: validation rejects unknown fields, coerces and
// checks types, applies defaults, and clamps bounded integers.
type Schema struct {
	args []Arg
}

// NewSchema builds a schema from argument declarations.
func NewSchema(args ...Arg) *Schema {
	return &Schema{args: args}
}

// JSONSchema renders the schema as a JSON-Schema object for tool advertising.
func (s *Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.args))
	var required []string
	for _, a := range s.args {
		p := map[string]any{"description": a.Description}
		switch a.Type {
		case TypeInteger:
			p["type"] = "integer"
			if a.Max > 0 {
				p["maximum"] = a.Max
			}
			if a.Default != nil {
				p["default"] = a.Default
			}
		case TypeTimestamp:
			p["type"] = "string"
			p["format"] = "date-time"
		default:
			p["type"] = "string"
		}
		props[a.Name] = p
		if a.Required {
			required = append(required, a.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Validate checks raw arguments against the schema and returns the validated
// set: declared fields only, typed values, defaults applied, integers clamped
// into [1, Max]. Timestamp fields come back as time.Time.
// Error messages are written for the model to read: short and free of parser
// internals.
func (s *Schema) Validate(raw map[string]any) (map[string]any, error) {
	declared := make(map[string]Arg, len(s.args))
	for _, a := range s.args {
		declared[a.Name] = a
	}

	for name := range raw {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("unknown argument %q", name)
		}
	}

	out := make(map[string]any, len(s.args))
	for _, a := range s.args {
		v, present := raw[a.Name]
		if !present || v == nil {
			if a.Required {
				return nil, fmt.Errorf("missing required argument %q", a.Name)
			}
			if a.Default != nil {
				out[a.Name] = a.Default
			}
			continue
		}

		typed, err := coerce(a, v)
		if err != nil {
			return nil, err
		}
		out[a.Name] = typed
	}
	return out, nil
}

// coerce converts a raw JSON value to the declared argument type.
func coerce(a Arg, v any) (any, error) {
	switch a.Type {
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a string", a.Name)
		}
		if a.Required && str == "" {
			return nil, fmt.Errorf("argument %q must not be empty", a.Name)
		}
		return str, nil

	case TypeInteger:
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("argument %q must be an integer", a.Name)
		}
		// Clamp into bounds, never silently raised above the maximum.
		if a.Max > 0 && n > a.Max {
			n = a.Max
		}
		if n < 1 {
			n = 1
		}
		return n, nil

	case TypeTimestamp:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be an ISO 8601 timestamp string", a.Name)
		}
		ts, err := parseTimestamp(str)
		if err != nil {
			return nil, fmt.Errorf("argument %q is not a valid timestamp (use e.g. 2025-01-02T15:04:05Z)", a.Name)
		}
		return ts, nil
	}
	return nil, fmt.Errorf("argument %q has unsupported type", a.Name)
}

// toInt accepts the numeric shapes JSON decoding can produce.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not a whole number")
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("not a number")
}

// parseTimestamp accepts RFC 3339 and zone-less ISO 8601 forms.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
