package internal

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/filecrate/crate"
)

// SchemaValidator turns a derived relational schema back into a JSON Schema
// and validates append payloads against it before any row insert, so a batch
// that passed the column comparison but carries incompatible values is
// refused up front.
type SchemaValidator struct{}

// NewSchemaValidator constructs a SchemaValidator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// BuildSchemaMap converts the root table of a derived schema into a JSON
// Schema document describing one acceptable upload document.
func (v *SchemaValidator) BuildSchemaMap(schema *crate.RelationalSchema) (map[string]any, error) {
	root := schema.RootTable()
	if root == nil {
		return nil, crate.NewSchemaInvalidError("schema has no root table")
	}

	properties := make(map[string]any)
	required := []string{}
	for _, col := range root.DataColumns() {
		if col.SourceField == "" {
			continue
		}
		properties[col.SourceField] = columnSchemaMap(col)
		if !col.Nullable {
			required = append(required, col.SourceField)
		}
	}
	for _, child := range schema.ChildTables() {
		childProps := make(map[string]any)
		for _, col := range child.DataColumns() {
			if col.SourceField == "" {
				continue
			}
			childProps[col.SourceField] = columnSchemaMap(col)
		}
		properties[child.SourceField] = map[string]any{
			"type":       []string{"object", "null"},
			"properties": childProps,
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}, nil
}

// ValidateDocuments checks every document of an append payload against the
// stored schema. The first failing document aborts with its index.
func (v *SchemaValidator) ValidateDocuments(schema *crate.RelationalSchema, docs []any) error {
	if schema == nil {
		return nil
	}
	schemaMap, err := v.BuildSchemaMap(schema)
	if err != nil {
		return err
	}

	schemaBytes, err := json.Marshal(schemaMap)
	if err != nil {
		return crate.NewInternalError("failed to marshal validation schema", err)
	}
	var js jsonschema.Schema
	if err := json.Unmarshal(schemaBytes, &js); err != nil {
		return crate.NewInternalError("failed to build validation schema", err)
	}
	resolved, err := js.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return crate.NewInternalError("failed to resolve validation schema", err)
	}

	for i, doc := range docs {
		if _, ok := doc.([]any); ok {
			// Primitive-array layouts bypass document validation.
			continue
		}
		if err := resolved.Validate(normalizeNumbers(doc)); err != nil {
			return crate.NewValidationError("", fmt.Sprintf("document %d does not match the stored schema", i)).
				WithCause(err).
				WithDetail("document_index", i)
		}
	}
	return nil
}

// normalizeNumbers rewrites json.Number values to float64 so the validator
// sees plain JSON numbers.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeNumbers(item)
		}
		return out
	default:
		return value
	}
}

func columnSchemaMap(col crate.ColumnDef) map[string]any {
	var types []string
	switch col.SQLType {
	case crate.SQLTypeNumeric:
		types = []string{"number"}
	case crate.SQLTypeBoolean:
		types = []string{"boolean"}
	case crate.SQLTypeJSONB:
		types = []string{"array", "object"}
	default:
		// TEXT columns also absorb mixed-type fields, so any scalar is
		// acceptable there.
		types = []string{"string", "number", "boolean"}
	}
	if col.Nullable {
		types = append(types, "null")
	}
	return map[string]any{"type": types}
}
