package crate

import (
	"encoding/json"
)

// ClassifyValue maps a decoded JSON value to its semantic field type. The
// input is the encoding/json representation: nil, bool, float64, json.Number,
// string, []any, or map[string]any. Values outside that set (only possible
// when callers hand-build documents) are treated as strings.
func ClassifyValue(v any) FieldType {
	switch v.(type) {
	case nil:
		return FieldTypeNull
	case bool:
		return FieldTypeBoolean
	case float64, json.Number, int, int64:
		return FieldTypeNumber
	case string:
		return FieldTypeString
	case []any:
		return FieldTypeArray
	case map[string]any:
		return FieldTypeObject
	default:
		return FieldTypeString
	}
}

// maxAnalyzeDepth caps structure traversal. Nesting beyond this depth is
// recorded as depth maxAnalyzeDepth and not descended into.
const maxAnalyzeDepth = 10

// Analyze builds a StructureProfile over a set of documents. A document is
// any decoded JSON value; top-level batch unwrapping is the caller's job.
// The result is deterministic for a given input.
func Analyze(docs []any) *StructureProfile {
	profile := &StructureProfile{
		FieldPresence: make(map[string]int),
		FieldTypes:    make(map[string][]FieldType),
		SampleSize:    len(docs),
	}

	for _, doc := range docs {
		obj, ok := doc.(map[string]any)
		if !ok {
			// Non-object documents contribute depth and container flags
			// but no fields.
			if depth := valueDepth(doc, 0); depth > profile.MaxDepth {
				profile.MaxDepth = depth
			}
			markContainers(doc, profile)
			continue
		}
		for field, value := range obj {
			profile.FieldPresence[field]++
			addFieldType(profile, field, ClassifyValue(value))

			switch v := value.(type) {
			case map[string]any:
				profile.HasNestedObjects = true
				markContainers(v, profile)
			case []any:
				profile.HasArrays = true
				markContainers(v, profile)
			}
			if depth := valueDepth(value, 0); depth > profile.MaxDepth {
				profile.MaxDepth = depth
			}
		}
	}

	profile.UniqueFields = sortedKeys(profile.FieldPresence)
	for field := range profile.FieldTypes {
		sortFieldTypes(profile.FieldTypes[field])
	}
	return profile
}

// AnalyzeOne profiles a single document.
func AnalyzeOne(doc any) *StructureProfile {
	return Analyze([]any{doc})
}

// valueDepth returns the nesting depth of a value: primitives are 0, each
// container level adds one. An empty container is still one level. Traversal
// stops at maxAnalyzeDepth.
func valueDepth(v any, level int) int {
	if level >= maxAnalyzeDepth {
		return maxAnalyzeDepth
	}
	switch val := v.(type) {
	case map[string]any:
		deepest := 0
		for _, child := range val {
			if d := valueDepth(child, level+1); d > deepest {
				deepest = d
			}
		}
		return capDepth(1 + deepest)
	case []any:
		deepest := 0
		for _, item := range val {
			if d := valueDepth(item, level+1); d > deepest {
				deepest = d
			}
		}
		return capDepth(1 + deepest)
	default:
		return 0
	}
}

func capDepth(d int) int {
	if d > maxAnalyzeDepth {
		return maxAnalyzeDepth
	}
	return d
}

// markContainers sets the nested-object and array flags for values reached
// below the top level of a document.
func markContainers(v any, profile *StructureProfile) {
	switch val := v.(type) {
	case map[string]any:
		profile.HasNestedObjects = true
		for _, child := range val {
			markContainers(child, profile)
		}
	case []any:
		profile.HasArrays = true
		for _, item := range val {
			markContainers(item, profile)
		}
	}
}

func addFieldType(profile *StructureProfile, field string, t FieldType) {
	for _, existing := range profile.FieldTypes[field] {
		if existing == t {
			return
		}
	}
	profile.FieldTypes[field] = append(profile.FieldTypes[field], t)
}

// fieldTypeOrder fixes the ordering of observed type sets so profiles
// compare stably in tests and serialized output.
var fieldTypeOrder = map[FieldType]int{
	FieldTypeNull:    0,
	FieldTypeBoolean: 1,
	FieldTypeNumber:  2,
	FieldTypeString:  3,
	FieldTypeArray:   4,
	FieldTypeObject:  5,
}

func sortFieldTypes(types []FieldType) {
	for i := 1; i < len(types); i++ {
		for j := i; j > 0 && fieldTypeOrder[types[j]] < fieldTypeOrder[types[j-1]]; j-- {
			types[j], types[j-1] = types[j-1], types[j]
		}
	}
}
