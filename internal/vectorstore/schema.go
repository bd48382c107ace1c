package vectorstore

import (
	"fmt"
	"strings"

	"github.com/angelmaroco/spark-tunning-ml/internal/config"
	"github.com/angelmaroco/spark-tunning-ml/internal/record"
)

// fieldType maps a declared field kind onto the SurrealDB field type.
func fieldType(f config.FieldSpec) string {
	var t string
	switch f.Kind {
	case config.KindInt64:
		t = "int"
	case config.KindFloat64:
		t = "float"
	case config.KindVarChar:
		t = "string"
	case config.KindFloatVector:
		t = "array<float>"
	}
	if f.Nullable {
		return "option<" + t + ">"
	}
	return t
}

// kindFromType is the inverse mapping, used when validating an
// existing table against the declared schema.
func kindFromType(t string) (config.FieldKind, bool) {
	t = strings.TrimSuffix(strings.TrimPrefix(t, "option<"), ">")
	switch t {
	case "int":
		return config.KindInt64, true
	case "float":
		return config.KindFloat64, true
	case "string":
		return config.KindVarChar, true
	case "array<float>", "array":
		return config.KindFloatVector, true
	default:
		return "", false
	}
}

// collectionDDL renders the CREATE statements for a collection table:
// a schemaful table, one field per declared spec, and the HNSW index
// on the vector field. Record ids are store-assigned, so auto-id
// primary fields produce no DDL.
func collectionDDL(schema record.Schema) string {
	var sb strings.Builder
	tbl := schema.Name

	fmt.Fprintf(&sb, "DEFINE TABLE IF NOT EXISTS %s SCHEMAFULL;\n", tbl)
	for _, f := range schema.Fields {
		if f.AutoID {
			continue
		}
		fmt.Fprintf(&sb, "DEFINE FIELD IF NOT EXISTS %s ON %s TYPE %s;\n", f.Name, tbl, fieldType(f))
		if f.Kind == config.KindVarChar && f.MaxLength > 0 && !f.Nullable {
			fmt.Fprintf(&sb, "DEFINE FIELD OVERWRITE %s ON %s TYPE string ASSERT string::len($value) <= %d;\n", f.Name, tbl, f.MaxLength)
		}
	}

	// Lookup index for per-application supersede/delete.
	if _, ok := schema.Field(record.FieldAppID); ok {
		fmt.Fprintf(&sb, "DEFINE INDEX IF NOT EXISTS %s_app ON %s FIELDS %s;\n", tbl, tbl, record.FieldAppID)
	}

	vec := schema.VectorField
	fmt.Fprintf(&sb, "DEFINE INDEX IF NOT EXISTS %s_vector ON %s FIELDS %s HNSW DIMENSION %d DIST COSINE TYPE F32;\n",
		tbl, tbl, vec.Name, vec.Dim)

	return sb.String()
}

// processedDDL renders the statements for the processed-applications
// table, the durable record of which applications are already indexed.
func processedDDL(table string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DEFINE TABLE IF NOT EXISTS %s SCHEMAFULL;\n", table)
	fmt.Fprintf(&sb, "DEFINE FIELD IF NOT EXISTS app_id ON %s TYPE string;\n", table)
	fmt.Fprintf(&sb, "DEFINE FIELD IF NOT EXISTS stages ON %s TYPE int DEFAULT 0;\n", table)
	fmt.Fprintf(&sb, "DEFINE FIELD IF NOT EXISTS records ON %s TYPE int DEFAULT 0;\n", table)
	fmt.Fprintf(&sb, "DEFINE FIELD IF NOT EXISTS created ON %s TYPE datetime DEFAULT time::now();\n", table)
	fmt.Fprintf(&sb, "DEFINE INDEX IF NOT EXISTS %s_app ON %s FIELDS app_id UNIQUE;\n", table, table)
	return sb.String()
}
