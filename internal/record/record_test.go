package record

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmaroco/spark-tunning-ml/internal/aggregate"
	"github.com/angelmaroco/spark-tunning-ml/internal/config"
)

func testFields() []config.FieldSpec {
	return []config.FieldSpec{
		{Name: "pk", Kind: config.KindInt64, PrimaryKey: true, AutoID: true},
		{Name: FieldAppID, Kind: config.KindVarChar, MaxLength: 64},
		{Name: FieldAppName, Kind: config.KindVarChar, MaxLength: 32},
		{Name: "stageId", Kind: config.KindInt64},
		{Name: "stageAttempt", Kind: config.KindInt64},
		{Name: "executorRunTime_meanAgg", Kind: config.KindFloat64, Nullable: true},
		{Name: FieldText, Kind: config.KindVarChar, MaxLength: 4096},
		{Name: "vector", Kind: config.KindFloatVector, Dim: 4},
	}
}

func testSchema(t *testing.T) Schema {
	t.Helper()
	schema, err := ResolveSchema("spark_metrics_test", testFields())
	require.NoError(t, err)
	return schema
}

func testRow() aggregate.FeatureRow {
	return aggregate.FeatureRow{
		AppID:        "app-20260830-0001",
		AppName:      "daily-etl",
		StageID:      3,
		StageAttempt: 1,
		Scalars:      []aggregate.Column{{Name: "stageId", Value: 3}},
		Aggregates:   []aggregate.Column{{Name: "executorRunTime_meanAgg", Value: 1234.5}},
	}
}

func TestResolveSchema_Rejections(t *testing.T) {
	base := testFields()

	noVector := append([]config.FieldSpec{}, base[:len(base)-1]...)
	_, err := ResolveSchema("c", noVector)
	assert.Error(t, err, "schema without vector field")

	twoVectors := append(append([]config.FieldSpec{}, base...),
		config.FieldSpec{Name: "vector2", Kind: config.KindFloatVector, Dim: 4})
	_, err = ResolveSchema("c", twoVectors)
	assert.Error(t, err, "two vector fields")

	dup := append(append([]config.FieldSpec{}, base...),
		config.FieldSpec{Name: "stageId", Kind: config.KindInt64})
	_, err = ResolveSchema("c", dup)
	assert.Error(t, err, "duplicate field name")

	badVarchar := append([]config.FieldSpec{}, base...)
	badVarchar[1].MaxLength = 0
	_, err = ResolveSchema("c", badVarchar)
	assert.Error(t, err, "varchar without max_length")

	badAuto := append([]config.FieldSpec{}, base...)
	badAuto[3].AutoID = true
	_, err = ResolveSchema("c", badAuto)
	assert.Error(t, err, "auto_id on non-primary field")
}

func TestSchema_Compatible(t *testing.T) {
	schema := testSchema(t)

	existing := map[string]config.FieldKind{}
	for _, f := range schema.Fields {
		existing[f.Name] = f.Kind
	}
	existing["extra"] = config.KindFloat64

	assert.NoError(t, schema.Compatible(existing), "superset with same kinds is compatible")

	existing["stageId"] = config.KindFloat64
	assert.Error(t, schema.Compatible(existing), "kind change is incompatible")

	delete(existing, "stageId")
	assert.Error(t, schema.Compatible(existing), "missing declared field is incompatible")
}

func TestBuild_MapsColumns(t *testing.T) {
	b := NewBuilder(testSchema(t))

	rec, err := b.Build(testRow())
	require.NoError(t, err)

	assert.Equal(t, "app-20260830-0001", rec.Fields[FieldAppID])
	assert.Equal(t, "daily-etl", rec.Fields[FieldAppName])
	assert.Equal(t, int64(3), rec.Fields["stageId"])
	assert.Equal(t, int64(1), rec.Fields["stageAttempt"])
	assert.Equal(t, 1234.5, rec.Fields["executorRunTime_meanAgg"])
	assert.NotContains(t, rec.Fields, "pk", "auto-id fields are never populated")
	assert.Empty(t, rec.Flags)
}

func TestBuild_TextIsDeterministic(t *testing.T) {
	b := NewBuilder(testSchema(t))

	rec1, err := b.Build(testRow())
	require.NoError(t, err)
	rec2, err := b.Build(testRow())
	require.NoError(t, err)

	assert.Equal(t, rec1.Text, rec2.Text)
	assert.Equal(t, "sparkAppId: app-20260830-0001, sparkAppName: daily-etl, stageId: 3, executorRunTime_meanAgg: 1234.5", rec1.Text)
}

func TestBuild_MissingRequiredField(t *testing.T) {
	b := NewBuilder(testSchema(t))

	row := testRow()
	row.Scalars = nil // drops stageId
	_, err := b.Build(row)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestBuild_MissingNullableFieldOmitted(t *testing.T) {
	b := NewBuilder(testSchema(t))

	row := testRow()
	row.Aggregates = nil // drops nullable executorRunTime_meanAgg
	rec, err := b.Build(row)
	require.NoError(t, err)
	assert.NotContains(t, rec.Fields, "executorRunTime_meanAgg")
}

func TestBuild_TruncatesLongStrings(t *testing.T) {
	b := NewBuilder(testSchema(t))

	row := testRow()
	row.AppName = strings.Repeat("x", 100)
	rec, err := b.Build(row)
	require.NoError(t, err)

	assert.Len(t, rec.Fields[FieldAppName], 32)
	require.NotEmpty(t, rec.Flags)
	assert.Contains(t, rec.Flags[0], "truncated")
}

func TestBuild_TruncatesOnRuneBoundary(t *testing.T) {
	b := NewBuilder(testSchema(t))

	// 31 ASCII bytes followed by a 3-byte rune straddling the 32-byte
	// limit: a byte cut would leave invalid UTF-8.
	row := testRow()
	row.AppName = strings.Repeat("x", 31) + "日日"
	rec, err := b.Build(row)
	require.NoError(t, err)

	name, ok := rec.Fields[FieldAppName].(string)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("x", 31), name)
	assert.True(t, utf8.ValidString(name))
	require.NotEmpty(t, rec.Flags)
	assert.Contains(t, rec.Flags[0], "truncated")
}

func TestBuild_ClampsIntOverflow(t *testing.T) {
	b := NewBuilder(testSchema(t))

	row := testRow()
	row.Scalars = []aggregate.Column{{Name: "stageId", Value: 1e300}}
	rec, err := b.Build(row)
	require.NoError(t, err)

	assert.Equal(t, int64(1<<63-1), rec.Fields["stageId"])
	require.NotEmpty(t, rec.Flags)
	assert.Contains(t, rec.Flags[0], "clamped")
}

func TestSetVector(t *testing.T) {
	b := NewBuilder(testSchema(t))

	rec, err := b.Build(testRow())
	require.NoError(t, err)

	err = b.SetVector(rec, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, b.SetVector(rec, []float32{1, 2, 3, 4}))
	assert.Equal(t, []float32{1, 2, 3, 4}, rec.Vector)
	assert.Equal(t, []float32{1, 2, 3, 4}, rec.Fields["vector"])
}

func TestFormatValue_IntegralReadsAsInteger(t *testing.T) {
	assert.Equal(t, "42", formatValue(42))
	assert.Equal(t, "0.5", formatValue(0.5))
	assert.Equal(t, "1048576", formatValue(1 << 20))
}
