package crate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_Identical(t *testing.T) {
	schema := map[string]string{"id": "NUMERIC", "name": "TEXT"}

	result := Compare(schema, schema)

	assert.True(t, result.IsExactMatch)
	assert.Empty(t, result.MissingColumns)
	assert.Empty(t, result.ExtraColumns)
	assert.Empty(t, result.MismatchedTypes)
}

func TestCompare_ExtraColumn(t *testing.T) {
	existing := map[string]string{"id": "NUMERIC"}
	incoming := map[string]string{"id": "NUMERIC", "email": "TEXT"}

	result := Compare(existing, incoming)

	assert.False(t, result.IsExactMatch)
	assert.Empty(t, result.MissingColumns)
	assert.Equal(t, []string{"email"}, result.ExtraColumns)
	assert.Empty(t, result.MismatchedTypes)
}

func TestCompare_MissingColumn(t *testing.T) {
	existing := map[string]string{"id": "NUMERIC", "email": "TEXT"}
	incoming := map[string]string{"id": "NUMERIC"}

	result := Compare(existing, incoming)

	assert.False(t, result.IsExactMatch)
	assert.Equal(t, []string{"email"}, result.MissingColumns)
	assert.Empty(t, result.ExtraColumns)
}

func TestCompare_TypeMismatch(t *testing.T) {
	existing := map[string]string{"id": "NUMERIC", "flag": "BOOLEAN"}
	incoming := map[string]string{"id": "TEXT", "flag": "BOOLEAN"}

	result := Compare(existing, incoming)

	assert.False(t, result.IsExactMatch)
	require.Len(t, result.MismatchedTypes, 1)
	assert.Equal(t, TypeMismatch{Column: "id", ExistingType: "NUMERIC", NewType: "TEXT"}, result.MismatchedTypes[0])
}

func TestCompare_NormalizesTypeAliases(t *testing.T) {
	existing := map[string]string{"id": "bigint", "name": "varchar(255)", "meta": "json"}
	incoming := map[string]string{"id": "NUMERIC", "name": "TEXT", "meta": "JSONB"}

	result := Compare(existing, incoming)

	assert.True(t, result.IsExactMatch)
}

func TestCompare_SortedOutput(t *testing.T) {
	existing := map[string]string{"z": "TEXT", "a": "TEXT", "m": "TEXT"}
	incoming := map[string]string{"q": "TEXT", "b": "TEXT"}

	result := Compare(existing, incoming)

	assert.Equal(t, []string{"a", "m", "z"}, result.MissingColumns)
	assert.Equal(t, []string{"b", "q"}, result.ExtraColumns)
}

func TestNormalizeSQLType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"text", SQLTypeText},
		{"VARCHAR(100)", SQLTypeText},
		{"character varying", SQLTypeText},
		{"double precision", SQLTypeNumeric},
		{"int8", SQLTypeNumeric},
		{"bool", SQLTypeBoolean},
		{"json", SQLTypeJSONB},
		{"timestamp with time zone", SQLTypeTimestamp},
		{"  numeric(10,2) ", SQLTypeNumeric},
		{"GEOMETRY", "GEOMETRY"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSQLType(tt.in))
		})
	}
}

func TestResolveConflict(t *testing.T) {
	match := Compare(map[string]string{"id": "NUMERIC"}, map[string]string{"id": "NUMERIC"})
	diff := Compare(map[string]string{"id": "NUMERIC"}, map[string]string{"id": "NUMERIC", "x": "TEXT"})

	tests := []struct {
		name    string
		action  ConflictAction
		cmp     SchemaComparisonResult
		allowed bool
	}{
		{"overwrite always allowed", ConflictOverwrite, diff, true},
		{"append allowed on exact match", ConflictAppend, match, true},
		{"append refused on mismatch", ConflictAppend, diff, false},
		{"new version always allowed", ConflictNewVersion, diff, true},
		{"reject always allowed", ConflictReject, diff, true},
		{"unknown action refused", ConflictAction("merge"), match, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolution := ResolveConflict(tt.action, tt.cmp)
			assert.Equal(t, tt.allowed, resolution.Allowed)
			assert.NotEmpty(t, resolution.Reason)
		})
	}
}

func TestVersionedTableName(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	assert.Equal(t, "data_users_v20260314092653", VersionedTableName("data_users", now))
}
