package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/angelmaroco/spark-tunning-ml/internal/aggregate"
	"github.com/angelmaroco/spark-tunning-ml/internal/config"
)

// VectorRecord is the unit loaded into the vector store: scalar fields
// mapped from a feature row, the descriptive text blob, and the
// embedding vector of that text.
type VectorRecord struct {
	AppID  string
	Fields map[string]any
	Text   string
	Vector []float32

	// Flags records lossy coercions (clamped integers, truncated
	// strings) applied while building the record.
	Flags []string
}

// Builder maps feature rows onto a resolved schema.
type Builder struct {
	schema Schema
}

// NewBuilder creates a record builder for the resolved schema.
func NewBuilder(schema Schema) *Builder {
	return &Builder{schema: schema}
}

// Build maps a feature row's columns onto the schema's declared
// fields. A required field with no source column is a per-record
// error. The embedding vector is attached later via SetVector.
func (b *Builder) Build(row aggregate.FeatureRow) (*VectorRecord, error) {
	rec := &VectorRecord{
		AppID:  row.AppID,
		Fields: make(map[string]any, len(b.schema.Fields)),
		Text:   renderText(row),
	}

	columns := row.Columns()
	byName := make(map[string]float64, len(columns))
	for _, c := range columns {
		byName[c.Name] = c.Value
	}
	// The builder fills identity columns itself.
	byName["stageAttempt"] = float64(row.StageAttempt)

	for _, f := range b.schema.DataFields() {
		switch f.Name {
		case FieldAppID:
			rec.Fields[f.Name] = rec.truncate(f, row.AppID)
		case FieldAppName:
			rec.Fields[f.Name] = rec.truncate(f, row.AppName)
		case FieldText:
			rec.Fields[f.Name] = rec.truncate(f, rec.Text)
		default:
			v, ok := byName[f.Name]
			if !ok {
				if f.Nullable {
					continue
				}
				return nil, fmt.Errorf("%w: %s (app %s stage %d)", ErrMissingField, f.Name, row.AppID, row.StageID)
			}
			switch f.Kind {
			case config.KindInt64:
				rec.Fields[f.Name] = rec.clampInt(f, v)
			case config.KindFloat64:
				rec.Fields[f.Name] = v
			case config.KindVarChar:
				rec.Fields[f.Name] = rec.truncate(f, formatValue(v))
			}
		}
	}
	return rec, nil
}

// SetVector attaches the embedding, enforcing the schema dimension.
// A mismatch is a fatal schema error, not a per-record one.
func (b *Builder) SetVector(rec *VectorRecord, vector []float32) error {
	if len(vector) != b.schema.Dimension() {
		return fmt.Errorf("%w: got %d, schema declares %d", ErrDimensionMismatch, len(vector), b.schema.Dimension())
	}
	rec.Vector = vector
	rec.Fields[b.schema.VectorField.Name] = vector
	return nil
}

// truncate enforces a varchar max length, flagging the record when the
// value is cut. The cut lands on a rune boundary so the stored string
// stays valid UTF-8.
func (r *VectorRecord) truncate(f config.FieldSpec, s string) string {
	if f.MaxLength > 0 && len(s) > f.MaxLength {
		cut := f.MaxLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		r.Flags = append(r.Flags, fmt.Sprintf("%s truncated from %d to %d bytes", f.Name, len(s), cut))
		return s[:cut]
	}
	return s
}

// clampInt coerces a wide counter to int64, clamping on overflow.
// Values are clamped and flagged, never silently wrapped.
func (r *VectorRecord) clampInt(f config.FieldSpec, v float64) int64 {
	switch {
	case v >= math.MaxInt64:
		r.Flags = append(r.Flags, fmt.Sprintf("%s clamped to max int64", f.Name))
		return math.MaxInt64
	case v <= math.MinInt64:
		r.Flags = append(r.Flags, fmt.Sprintf("%s clamped to min int64", f.Name))
		return math.MinInt64
	default:
		return int64(v)
	}
}

// renderText produces the descriptive text blob for embedding: the
// row's identity and columns rendered as "name: value" pairs in column
// order. Equal rows must yield byte-identical text, since embeddings
// are only comparable when equivalent rows embed identical strings.
func renderText(row aggregate.FeatureRow) string {
	var sb strings.Builder
	sb.WriteString("sparkAppId: ")
	sb.WriteString(row.AppID)
	sb.WriteString(", sparkAppName: ")
	sb.WriteString(row.AppName)
	for _, c := range row.Columns() {
		sb.WriteString(", ")
		sb.WriteString(c.Name)
		sb.WriteString(": ")
		sb.WriteString(formatValue(c.Value))
	}
	return sb.String()
}

// formatValue renders a numeric value with the shortest exact
// representation, so integral values read as integers.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
