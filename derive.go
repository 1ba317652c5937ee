package crate

import (
	"strings"
)

// tablePrefix namespaces every derived table to keep user data apart from the
// service's own metadata tables.
const tablePrefix = "data_"

// Derive builds a relational schema for a payload already classified as SQL.
// The root table is named data_<sanitized baseName>. Each field whose only
// observed type is a flat object becomes a child table linked back to the
// root by a foreign key; every other field becomes a column via SQLTypeFor.
// Column order follows the sorted field names so derivation is deterministic.
func Derive(profile *StructureProfile, docs []any, baseName string) *RelationalSchema {
	rootName := tablePrefix + SanitizeName(baseName)

	// Primitive-array payloads collapse into a single value column.
	if len(docs) == 1 {
		if arr, ok := docs[0].([]any); ok && isPrimitiveArray(arr) {
			return &RelationalSchema{Tables: []TableDef{{
				Name: rootName,
				Columns: append(systemColumnsHead(),
					append([]ColumnDef{{
						Name:     "value",
						SQLType:  primitiveArrayType(arr),
						Nullable: true,
					}}, systemColumnsTail()...)...),
			}}}
		}
	}

	root := TableDef{
		Name:    rootName,
		Columns: systemColumnsHead(),
	}
	schema := &RelationalSchema{}

	for _, field := range profile.UniqueFields {
		nullable := profile.FieldPresence[field] < profile.SampleSize ||
			profile.HasFieldType(field, FieldTypeNull)

		if isChildTableField(profile, docs, field) {
			child := deriveChildTable(rootName, field, docs)
			schema.Tables = append(schema.Tables, child)
			continue
		}

		root.Columns = append(root.Columns, ColumnDef{
			Name:        columnName(field),
			SQLType:     SQLTypeFor(profile.FieldTypes[field]),
			Nullable:    nullable,
			SourceField: field,
		})
	}

	root.Columns = append(root.Columns, systemColumnsTail()...)
	schema.Tables = append([]TableDef{root}, schema.Tables...)
	return schema
}

// SQLTypeFor maps a field's observed type set to a SQL column type. A field
// observed with multiple non-null types degrades to TEXT; null alone is a
// nullable TEXT column.
func SQLTypeFor(types []FieldType) string {
	nonNull := make([]FieldType, 0, len(types))
	for _, t := range types {
		if t != FieldTypeNull {
			nonNull = append(nonNull, t)
		}
	}
	if len(nonNull) != 1 {
		return SQLTypeText
	}
	switch nonNull[0] {
	case FieldTypeString:
		return SQLTypeText
	case FieldTypeNumber:
		return SQLTypeNumeric
	case FieldTypeBoolean:
		return SQLTypeBoolean
	case FieldTypeArray, FieldTypeObject:
		return SQLTypeJSONB
	default:
		return SQLTypeText
	}
}

// isChildTableField reports whether a field should be normalized into a child
// table: its only observed type is object, and every occurrence is flat.
func isChildTableField(profile *StructureProfile, docs []any, field string) bool {
	types := profile.FieldTypes[field]
	if len(types) != 1 || types[0] != FieldTypeObject {
		return false
	}
	for _, doc := range docs {
		obj, ok := doc.(map[string]any)
		if !ok {
			continue
		}
		value, present := obj[field]
		if !present {
			continue
		}
		nested, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for _, nestedValue := range nested {
			switch nestedValue.(type) {
			case map[string]any, []any:
				return false
			}
		}
	}
	return true
}

// deriveChildTable builds the table for one flat nested-object field. The
// child profiles only the nested objects, so its columns come from a fresh
// analysis of those values.
func deriveChildTable(rootName, field string, docs []any) TableDef {
	nested := make([]any, 0, len(docs))
	for _, doc := range docs {
		obj, ok := doc.(map[string]any)
		if !ok {
			continue
		}
		if value, present := obj[field]; present {
			nested = append(nested, value)
		}
	}
	nestedProfile := Analyze(nested)

	child := TableDef{
		Name:        rootName + "_" + SanitizeName(field),
		ParentTable: rootName,
		SourceField: field,
		Columns: []ColumnDef{
			{Name: ColumnID, SQLType: SQLTypeSerial, IsPrimaryKey: true},
			{
				Name:            rootName + "_id",
				SQLType:         SQLTypeInteger,
				IsForeignKey:    true,
				ReferencesTable: rootName,
			},
		},
	}
	for _, nestedField := range nestedProfile.UniqueFields {
		nullable := nestedProfile.FieldPresence[nestedField] < nestedProfile.SampleSize ||
			nestedProfile.HasFieldType(nestedField, FieldTypeNull)
		child.Columns = append(child.Columns, ColumnDef{
			Name:        columnName(nestedField),
			SQLType:     SQLTypeFor(nestedProfile.FieldTypes[nestedField]),
			Nullable:    nullable,
			SourceField: nestedField,
		})
	}
	child.Columns = append(child.Columns, systemColumnsTail()...)
	return child
}

func primitiveArrayType(arr []any) string {
	types := make([]FieldType, 0, 2)
	for _, item := range arr {
		t := ClassifyValue(item)
		found := false
		for _, existing := range types {
			if existing == t {
				found = true
				break
			}
		}
		if !found {
			types = append(types, t)
		}
	}
	return SQLTypeFor(types)
}

// columnName maps a data field to its column name. Sanitized names that
// collide with the timestamp columns get a suffix; the primary key cannot
// collide because of its underscore prefix.
func columnName(field string) string {
	name := SanitizeName(field)
	if name == ColumnCreatedAt || name == ColumnUpdatedAt {
		return name + "_field"
	}
	return name
}

func systemColumnsHead() []ColumnDef {
	return []ColumnDef{
		{Name: ColumnID, SQLType: SQLTypeSerial, IsPrimaryKey: true},
	}
}

func systemColumnsTail() []ColumnDef {
	return []ColumnDef{
		{Name: ColumnCreatedAt, SQLType: SQLTypeTimestamp},
		{Name: ColumnUpdatedAt, SQLType: SQLTypeTimestamp},
	}
}

// SanitizeName lowercases a name and replaces everything outside [a-z0-9_]
// with underscores, collapsing runs. Names starting with a digit get a
// leading underscore; an empty result becomes "unnamed".
func SanitizeName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "unnamed"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
