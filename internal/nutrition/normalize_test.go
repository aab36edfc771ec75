package nutrition

import (
	"errors"
	"testing"

	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/vision"
)

var testBounds = Bounds{MaxMealCalories: 4000, MaxMacroGrams: 1000}

func TestNormalizeConsistentEstimate(t *testing.T) {
	// 4*30 + 4*60 + 9*20 = 540, within 25% of 600.
	est, err := Normalize("req-1", vision.Candidate{Calories: 600, ProteinG: 30, FatG: 20, CarbsG: 60}, testBounds)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if est.Confidence != model.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", est.Confidence)
	}
	if est.RequestID != "req-1" {
		t.Fatalf("estimate should carry the request identity")
	}
}

func TestNormalizeClampsNegatives(t *testing.T) {
	est, err := Normalize("req-2", vision.Candidate{Calories: 100, ProteinG: -5, FatG: 2, CarbsG: 20}, testBounds)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if est.ProteinG != 0 {
		t.Fatalf("expected protein clamped to 0, got %f", est.ProteinG)
	}
	if est.Confidence != model.ConfidenceLow {
		t.Fatalf("clamping must downgrade confidence, got %s", est.Confidence)
	}
}

func TestNormalizeInconsistentMacrosDowngrade(t *testing.T) {
	// Derived energy 4*10 + 4*10 + 9*5 = 125 kcal, far from 900.
	est, err := Normalize("req-3", vision.Candidate{Calories: 900, ProteinG: 10, FatG: 5, CarbsG: 10}, testBounds)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if est.Confidence != model.ConfidenceLow {
		t.Fatalf("expected low confidence for inconsistent macros, got %s", est.Confidence)
	}
}

func TestNormalizeSmallMealsUseAbsoluteSlack(t *testing.T) {
	// 40 kcal reported vs 4*2+4*5+9*1 = 37 derived; within the 50 kcal slack
	// even though 25% of 40 would be only 10.
	est, err := Normalize("req-4", vision.Candidate{Calories: 40, ProteinG: 2, FatG: 1, CarbsG: 5}, testBounds)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if est.Confidence != model.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", est.Confidence)
	}
}

func TestNormalizeRejectsImplausibleCalories(t *testing.T) {
	_, err := Normalize("req-5", vision.Candidate{Calories: 50000, ProteinG: 10, FatG: 10, CarbsG: 10}, testBounds)
	var implausible *ImplausibleError
	if !errors.As(err, &implausible) {
		t.Fatalf("expected ImplausibleError, got %v", err)
	}
}

func TestNormalizeRejectsImplausibleMacro(t *testing.T) {
	_, err := Normalize("req-6", vision.Candidate{Calories: 2000, ProteinG: 5000, FatG: 10, CarbsG: 10}, testBounds)
	var implausible *ImplausibleError
	if !errors.As(err, &implausible) {
		t.Fatalf("expected ImplausibleError, got %v", err)
	}
}
