package crate

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeSQLType canonicalizes a SQL type name for comparison: case and
// length/precision arguments are ignored, and common aliases collapse to the
// names Derive emits.
func NormalizeSQLType(sqlType string) string {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	if idx := strings.IndexByte(t, '('); idx >= 0 {
		t = strings.TrimSpace(t[:idx])
	}
	switch t {
	case "VARCHAR", "CHAR", "CHARACTER VARYING", "CHARACTER", "STRING":
		return SQLTypeText
	case "DECIMAL", "DOUBLE PRECISION", "REAL", "FLOAT", "INT", "INT4", "INT8", "BIGINT", "SMALLINT":
		return SQLTypeNumeric
	case "BOOL":
		return SQLTypeBoolean
	case "JSON":
		return SQLTypeJSONB
	case "TIMESTAMP", "TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ":
		return SQLTypeTimestamp
	default:
		return t
	}
}

// Compare diffs an existing stored schema against an incoming derived one,
// both given as column name -> SQL type maps. Missing columns exist only in
// the stored schema, extra columns only in the incoming one. Types are
// normalized before comparison. Compare never mutates storage.
func Compare(existing, incoming map[string]string) SchemaComparisonResult {
	result := SchemaComparisonResult{
		MissingColumns:  []string{},
		ExtraColumns:    []string{},
		MismatchedTypes: []TypeMismatch{},
	}

	for _, column := range sortedKeys(existing) {
		incomingType, present := incoming[column]
		if !present {
			result.MissingColumns = append(result.MissingColumns, column)
			continue
		}
		existingNorm := NormalizeSQLType(existing[column])
		incomingNorm := NormalizeSQLType(incomingType)
		if existingNorm != incomingNorm {
			result.MismatchedTypes = append(result.MismatchedTypes, TypeMismatch{
				Column:       column,
				ExistingType: existingNorm,
				NewType:      incomingNorm,
			})
		}
	}
	for _, column := range sortedKeys(incoming) {
		if _, present := existing[column]; !present {
			result.ExtraColumns = append(result.ExtraColumns, column)
		}
	}

	result.IsExactMatch = len(result.MissingColumns) == 0 &&
		len(result.ExtraColumns) == 0 &&
		len(result.MismatchedTypes) == 0
	return result
}

// ResolveConflict gates a conflict action against a schema comparison.
// Overwrite, new-version, and reject are always allowed; append is allowed
// only when the incoming schema exactly matches the stored one. Resolution
// is advisory: applying the action is the persistence layer's job.
func ResolveConflict(action ConflictAction, cmp SchemaComparisonResult) ConflictResolution {
	switch action {
	case ConflictOverwrite:
		return ConflictResolution{
			Action:  action,
			Allowed: true,
			Reason:  "existing table and rows will be replaced",
		}
	case ConflictAppend:
		if !cmp.IsExactMatch {
			return ConflictResolution{
				Action:  action,
				Allowed: false,
				Reason: fmt.Sprintf("schemas differ (%d missing, %d extra, %d mismatched columns), append requires an exact match",
					len(cmp.MissingColumns), len(cmp.ExtraColumns), len(cmp.MismatchedTypes)),
			}
		}
		return ConflictResolution{
			Action:  action,
			Allowed: true,
			Reason:  "schemas match exactly, rows will be appended",
		}
	case ConflictNewVersion:
		return ConflictResolution{
			Action:  action,
			Allowed: true,
			Reason:  "a new versioned table will be created alongside the existing one",
		}
	case ConflictReject:
		return ConflictResolution{
			Action:  action,
			Allowed: true,
			Reason:  "upload discarded, existing data kept unchanged",
		}
	default:
		return ConflictResolution{
			Action:  action,
			Allowed: false,
			Reason:  fmt.Sprintf("unknown conflict action '%s'", action),
		}
	}
}

// VersionedTableName returns the table name for a create_new_version
// resolution, suffixed with a UTC timestamp so successive versions sort
// lexically.
func VersionedTableName(tableName string, now time.Time) string {
	return tableName + "_v" + now.UTC().Format("20060102150405")
}
