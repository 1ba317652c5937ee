package crate

import (
	"fmt"
)

// Classification thresholds. Payloads beyond any of these are routed to
// document storage.
const (
	maxSQLDepth         = 3
	maxAvgFieldCount    = 50.0
	minFieldConsistency = 0.8
)

// Decide classifies a payload as relational or document storage based on its
// structure profile. Rules are precedence ordered: the first matching rule
// wins and its reasoning is reported. Decide is pure and recomputes the
// outcome on every call.
func Decide(profile *StructureProfile, docs []any) StorageDecision {
	if len(docs) == 0 {
		return StorageDecision{
			Kind:      StorageKindSQL,
			Reasoning: "empty payload, defaulting to relational storage",
		}
	}

	// A single primitive array becomes a one-column table.
	if len(docs) == 1 {
		if arr, ok := docs[0].([]any); ok && isPrimitiveArray(arr) {
			return StorageDecision{
				Kind:      StorageKindSQL,
				Reasoning: "array of primitive values maps to a single-column table",
			}
		}
	}

	for i, doc := range docs {
		if _, ok := doc.(map[string]any); !ok {
			return StorageDecision{
				Kind:      StorageKindNoSQL,
				Reasoning: fmt.Sprintf("item %d is not an object, mixed or non-tabular items require document storage", i),
			}
		}
	}

	// A single standalone object tolerates no nesting at all. Batches get
	// the more lenient depth rule below because uniform nesting across rows
	// can still be normalized into child tables.
	if len(docs) == 1 && (profile.HasNestedObjects || profile.HasArrays) {
		return StorageDecision{
			Kind:      StorageKindNoSQL,
			Reasoning: "single object with nested structures is stored as a document",
		}
	}

	if profile.MaxDepth > maxSQLDepth {
		return StorageDecision{
			Kind:      StorageKindNoSQL,
			Reasoning: fmt.Sprintf("nesting depth %d exceeds the relational limit of %d", profile.MaxDepth, maxSQLDepth),
		}
	}

	if hasObjectArrays(docs) {
		return StorageDecision{
			Kind:      StorageKindNoSQL,
			Reasoning: "arrays of objects require document storage",
		}
	}

	if avg := profile.AverageFieldCount(); avg > maxAvgFieldCount {
		return StorageDecision{
			Kind:      StorageKindNoSQL,
			Reasoning: fmt.Sprintf("average field count %.1f exceeds the relational limit of %.0f", avg, maxAvgFieldCount),
		}
	}

	if consistency := profile.FieldConsistency(); consistency < minFieldConsistency {
		return StorageDecision{
			Kind:      StorageKindNoSQL,
			Reasoning: fmt.Sprintf("field consistency %.2f is below the required %.2f", consistency, minFieldConsistency),
		}
	}

	return StorageDecision{
		Kind:      StorageKindSQL,
		Reasoning: "regular tabular structure fits relational storage",
	}
}

// isPrimitiveArray reports whether every element is a non-container value.
func isPrimitiveArray(arr []any) bool {
	for _, item := range arr {
		switch item.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

// hasObjectArrays reports whether any field of any document holds an array
// containing objects.
func hasObjectArrays(docs []any) bool {
	for _, doc := range docs {
		obj, ok := doc.(map[string]any)
		if !ok {
			continue
		}
		for _, value := range obj {
			arr, ok := value.([]any)
			if !ok {
				continue
			}
			for _, item := range arr {
				if _, ok := item.(map[string]any); ok {
					return true
				}
			}
		}
	}
	return false
}
