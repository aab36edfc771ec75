package vision

import (
	"errors"
	"testing"
)

func TestParseEstimateStripsFences(t *testing.T) {
	raw := "```json\n{\"calories\": 420, \"protein_g\": 20, \"fat_g\": 10, \"carbs_g\": 60}\n```"
	got, err := ParseEstimate(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Calories != 420 || got.CarbsG != 60 {
		t.Fatalf("unexpected candidate: %+v", got)
	}
}

func TestParseEstimateMissingField(t *testing.T) {
	_, err := ParseEstimate(`{"protein_g": 20, "fat_g": 10, "carbs_g": 60}`)
	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) || analysisErr.Kind != KindMalformed {
		t.Fatalf("expected malformed error for missing calories, got %v", err)
	}
}

func TestParseEstimateNullField(t *testing.T) {
	_, err := ParseEstimate(`{"calories": null, "protein_g": 10, "fat_g": 5, "carbs_g": 20}`)
	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) || analysisErr.Kind != KindMalformed {
		t.Fatalf("expected malformed error for null calories, got %v", err)
	}
}

func TestParseEstimateNonNumericField(t *testing.T) {
	_, err := ParseEstimate(`{"calories": "lots", "protein_g": 20, "fat_g": 10, "carbs_g": 60}`)
	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) || analysisErr.Kind != KindMalformed {
		t.Fatalf("expected malformed error for non-numeric calories, got %v", err)
	}
}

func TestParseEstimateNotJSON(t *testing.T) {
	_, err := ParseEstimate("I could not tell what this dish is.")
	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) || analysisErr.Kind != KindMalformed {
		t.Fatalf("expected malformed error for prose, got %v", err)
	}
}
