// Package schema defines goals and the typed input/output schemas they are
// declared with. Schemas are a closed set of variants validated at the call
// boundary, independent of Go's type system: primitives, string enums,
// bounded numerics, and records of named fields.
package schema

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/teleologic/telos/pkg/errors"
)

// Kind identifies a schema variant.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindEnum   Kind = "enum"
	KindNumber Kind = "number" // bounded numeric
	KindRecord Kind = "record"
)

// Type describes one schema variant. Exactly the fields for its Kind are set.
type Type struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Enum values, for KindEnum.
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`

	// Inclusive bounds, for KindNumber.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// Named fields, for KindRecord. Order matters for display only;
	// validation and canonicalization are order-independent.
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Field is one named member of a record type.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// Param is one named input parameter of a goal.
type Param struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// Goal is a declared unit of intent: a name, a natural-language description
// of what the function should do, and typed input/output schemas. The schema
// is fixed for the lifetime of the goal; changing it invalidates all logged
// data and ground truth.
type Goal struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Inputs      []Param   `json:"inputs"`
	Output      Type      `json:"output"`
	CreatedAt   time.Time `json:"createdAt"`
}

// String returns the string primitive type.
func String() Type { return Type{Kind: KindString} }

// Int returns the integer primitive type.
func Int() Type { return Type{Kind: KindInt} }

// Float returns the float primitive type.
func Float() Type { return Type{Kind: KindFloat} }

// Bool returns the boolean primitive type.
func Bool() Type { return Type{Kind: KindBool} }

// Enum returns a string enumeration over the given values.
func Enum(values ...string) Type { return Type{Kind: KindEnum, Values: values} }

// Number returns a float bounded to [min, max] inclusive.
func Number(min, max float64) Type {
	return Type{Kind: KindNumber, Min: &min, Max: &max}
}

// Record returns a structured type with the given named fields.
func Record(fields ...Field) Type { return Type{Kind: KindRecord, Fields: fields} }

// Validate checks that the type definition itself is well formed.
func (t Type) Validate() error {
	switch t.Kind {
	case KindString, KindInt, KindFloat, KindBool:
		return nil
	case KindEnum:
		if len(t.Values) == 0 {
			return errors.New(errors.ErrCodeSchemaInvalid, "enum requires at least one value")
		}
		seen := make(map[string]struct{}, len(t.Values))
		for _, v := range t.Values {
			if _, dup := seen[v]; dup {
				return errors.New(errors.ErrCodeSchemaInvalid, "duplicate enum value").WithContext("value", v)
			}
			seen[v] = struct{}{}
		}
		return nil
	case KindNumber:
		if t.Min == nil || t.Max == nil {
			return errors.New(errors.ErrCodeSchemaInvalid, "bounded number requires min and max")
		}
		if *t.Min > *t.Max {
			return errors.New(errors.ErrCodeSchemaInvalid, "number min exceeds max").
				WithContext("min", *t.Min).WithContext("max", *t.Max)
		}
		return nil
	case KindRecord:
		if len(t.Fields) == 0 {
			return errors.New(errors.ErrCodeSchemaInvalid, "record requires at least one field")
		}
		seen := make(map[string]struct{}, len(t.Fields))
		for _, f := range t.Fields {
			if strings.TrimSpace(f.Name) == "" {
				return errors.New(errors.ErrCodeSchemaInvalid, "record field name cannot be empty")
			}
			if _, dup := seen[f.Name]; dup {
				return errors.New(errors.ErrCodeSchemaInvalid, "duplicate record field").WithContext("field", f.Name)
			}
			seen[f.Name] = struct{}{}
			if err := f.Type.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.New(errors.ErrCodeSchemaInvalid, "unknown schema kind").WithContext("kind", string(t.Kind))
	}
}

// Check validates a decoded JSON value against the type. Numbers arrive as
// float64 from encoding/json, so integer checks accept whole floats.
func (t Type) Check(value any) error {
	switch t.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return mismatch("string", value)
		}
	case KindInt:
		f, ok := value.(float64)
		if !ok {
			if _, isInt := value.(int); isInt {
				return nil
			}
			return mismatch("int", value)
		}
		if f != math.Trunc(f) {
			return mismatch("int", value)
		}
	case KindFloat:
		switch value.(type) {
		case float64, int:
		default:
			return mismatch("float", value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return mismatch("bool", value)
		}
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return mismatch("enum", value)
		}
		for _, v := range t.Values {
			if v == s {
				return nil
			}
		}
		return errors.New(errors.ErrCodeSchemaMismatch, "value not in enum").
			WithContext("value", s).WithContext("allowed", strings.Join(t.Values, ","))
	case KindNumber:
		f, ok := toFloat(value)
		if !ok {
			return mismatch("number", value)
		}
		if f < *t.Min || f > *t.Max {
			return errors.New(errors.ErrCodeSchemaMismatch, "number out of bounds").
				WithContext("value", f).WithContext("min", *t.Min).WithContext("max", *t.Max)
		}
	case KindRecord:
		m, ok := value.(map[string]any)
		if !ok {
			return mismatch("record", value)
		}
		for _, f := range t.Fields {
			fv, present := m[f.Name]
			if !present {
				return errors.New(errors.ErrCodeSchemaMismatch, "missing record field").WithContext("field", f.Name)
			}
			if err := f.Type.Check(fv); err != nil {
				return errors.Wrap(err, errors.ErrCodeSchemaMismatch, fmt.Sprintf("field %q", f.Name))
			}
		}
		for k := range m {
			if !t.hasField(k) {
				return errors.New(errors.ErrCodeSchemaMismatch, "unexpected record field").WithContext("field", k)
			}
		}
	default:
		return errors.New(errors.ErrCodeSchemaInvalid, "unknown schema kind").WithContext("kind", string(t.Kind))
	}
	return nil
}

func (t Type) hasField(name string) bool {
	for _, f := range t.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func mismatch(want string, got any) error {
	return errors.New(errors.ErrCodeSchemaMismatch, "type mismatch").
		WithContext("want", want).WithContext("got", fmt.Sprintf("%T", got))
}

// Validate checks that the goal declaration is well formed.
func (g *Goal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return errors.New(errors.ErrCodeSchemaInvalid, "goal name cannot be empty")
	}
	if strings.TrimSpace(g.Description) == "" {
		return errors.New(errors.ErrCodeSchemaInvalid, "goal description cannot be empty").
			WithContext("goal", g.Name)
	}
	seen := make(map[string]struct{}, len(g.Inputs))
	for _, p := range g.Inputs {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New(errors.ErrCodeSchemaInvalid, "input parameter name cannot be empty").
				WithContext("goal", g.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return errors.New(errors.ErrCodeSchemaInvalid, "duplicate input parameter").
				WithContext("goal", g.Name).WithContext("param", p.Name)
		}
		seen[p.Name] = struct{}{}
		if err := p.Type.Validate(); err != nil {
			return err
		}
	}
	return g.Output.Validate()
}

// CheckArgs validates named arguments against the goal's input schema.
// Every declared parameter must be present with a conforming value, and no
// undeclared argument may appear.
func (g *Goal) CheckArgs(args map[string]any) error {
	for _, p := range g.Inputs {
		v, present := args[p.Name]
		if !present {
			return errors.New(errors.ErrCodeSchemaMismatch, "missing argument").
				WithContext("goal", g.Name).WithContext("param", p.Name)
		}
		if err := p.Type.Check(v); err != nil {
			return errors.Wrap(err, errors.ErrCodeSchemaMismatch, fmt.Sprintf("argument %q", p.Name)).
				WithContext("goal", g.Name)
		}
	}
	for k := range args {
		if !g.hasInput(k) {
			return errors.New(errors.ErrCodeSchemaMismatch, "unexpected argument").
				WithContext("goal", g.Name).WithContext("param", k)
		}
	}
	return nil
}

// CheckOutput validates a produced output value against the goal's output schema.
func (g *Goal) CheckOutput(value any) error {
	if err := g.Output.Check(value); err != nil {
		return errors.Wrap(err, errors.ErrCodeSchemaMismatch, "output does not match schema").
			WithContext("goal", g.Name)
	}
	return nil
}

func (g *Goal) hasInput(name string) bool {
	for _, p := range g.Inputs {
		if p.Name == name {
			return true
		}
	}
	return false
}
