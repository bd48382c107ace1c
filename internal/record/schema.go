// Package record assembles feature rows into vector-store records
// according to a declared collection schema.
package record

import (
	"errors"
	"fmt"

	"github.com/angelmaroco/spark-tunning-ml/internal/config"
)

// Sentinel errors for schema resolution and record building.
var (
	// ErrMissingField indicates a required schema field has no source
	// column in the feature row. Per-record, not fatal.
	ErrMissingField = errors.New("missing required field")

	// ErrDimensionMismatch indicates an embedding vector whose length
	// differs from the schema's declared dimension. Fatal schema error.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Reserved schema field names populated by the builder itself rather
// than mapped from feature-row columns.
const (
	FieldAppID   = "sparkAppId"
	FieldAppName = "sparkAppName"
	FieldText    = "text"
)

// Schema is the resolved collection schema: the configured field specs
// validated once at startup into a fixed record shape.
type Schema struct {
	// Name is the full collection name, {base}_{process}.
	Name string

	Fields []config.FieldSpec

	// VectorField is the single declared vector field.
	VectorField config.FieldSpec
}

// ResolveSchema validates field specs and returns the resolved schema.
// Incompatible or unmappable declarations are rejected here, at
// startup, never at write time.
func ResolveSchema(name string, fields []config.FieldSpec) (Schema, error) {
	if name == "" {
		return Schema{}, fmt.Errorf("collection name is required")
	}
	if len(fields) == 0 {
		return Schema{}, fmt.Errorf("collection %s: no fields declared", name)
	}

	var vector *config.FieldSpec
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("collection %s: field %d has no name", name, i)
		}
		if _, dup := seen[f.Name]; dup {
			return Schema{}, fmt.Errorf("collection %s: duplicate field %q", name, f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Kind {
		case config.KindFloatVector:
			if f.Dim <= 0 {
				return Schema{}, fmt.Errorf("collection %s: vector field %q needs a positive dim", name, f.Name)
			}
			if vector != nil {
				return Schema{}, fmt.Errorf("collection %s: more than one vector field (%q, %q)", name, vector.Name, f.Name)
			}
			vector = &fields[i]
		case config.KindVarChar:
			if f.MaxLength <= 0 {
				return Schema{}, fmt.Errorf("collection %s: varchar field %q needs a positive max_length", name, f.Name)
			}
		case config.KindInt64, config.KindFloat64:
		default:
			return Schema{}, fmt.Errorf("collection %s: field %q has unknown kind %q", name, f.Name, f.Kind)
		}

		if f.AutoID && !f.PrimaryKey {
			return Schema{}, fmt.Errorf("collection %s: auto_id on non-primary field %q", name, f.Name)
		}
	}
	if vector == nil {
		return Schema{}, fmt.Errorf("collection %s: no vector field declared", name)
	}

	return Schema{Name: name, Fields: fields, VectorField: *vector}, nil
}

// Dimension returns the declared vector dimension.
func (s Schema) Dimension() int {
	return s.VectorField.Dim
}

// Field returns the spec of a named field.
func (s Schema) Field(name string) (config.FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return config.FieldSpec{}, false
}

// DataFields returns fields the builder must populate: everything
// except the vector field and auto-id primaries.
func (s Schema) DataFields() []config.FieldSpec {
	out := make([]config.FieldSpec, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Kind == config.KindFloatVector || f.AutoID {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Compatible reports whether existing field kinds (by name) form a
// superset compatible with this schema: every declared field must
// exist with the same kind. Extra existing fields are allowed.
func (s Schema) Compatible(existing map[string]config.FieldKind) error {
	for _, f := range s.Fields {
		if f.AutoID {
			continue
		}
		kind, ok := existing[f.Name]
		if !ok {
			return fmt.Errorf("collection %s: existing schema lacks field %q", s.Name, f.Name)
		}
		if kind != f.Kind {
			return fmt.Errorf("collection %s: field %q is %s, schema declares %s", s.Name, f.Name, kind, f.Kind)
		}
	}
	return nil
}
