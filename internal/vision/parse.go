package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Candidate is the raw parsed schema before validation. Every field was
// present and numeric in the provider output; nothing here is guessed.
type Candidate struct {
	Calories float64
	ProteinG float64
	FatG     float64
	CarbsG   float64
}

var requiredFields = []string{"calories", "protein_g", "fat_g", "carbs_g"}

// ParseEstimate maps raw provider output onto the fixed numeric schema. Any
// missing or non-numeric required field is a malformed response, never a
// guessed value. Models occasionally wrap JSON in markdown fences, which are
// stripped first.
func ParseEstimate(raw string) (Candidate, error) {
	cleaned := stripFences(raw)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return Candidate{}, &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("parse response: %w", err)}
	}
	values := make(map[string]float64, len(requiredFields))
	for _, name := range requiredFields {
		rawValue, ok := fields[name]
		if !ok {
			return Candidate{}, &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("missing required field %q", name)}
		}
		// Unmarshal into *float64: JSON null leaves the pointer nil instead of
		// silently zeroing a float64, and a zeroed field would be a guessed
		// value, not a parsed one.
		var v *float64
		if err := json.Unmarshal(rawValue, &v); err != nil || v == nil {
			return Candidate{}, &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("field %q is not numeric", name)}
		}
		values[name] = *v
	}
	return Candidate{
		Calories: values["calories"],
		ProteinG: values["protein_g"],
		FatG:     values["fat_g"],
		CarbsG:   values["carbs_g"],
	}, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
