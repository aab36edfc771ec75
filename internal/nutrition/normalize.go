// Package nutrition range-checks and sanity-checks parsed estimates before
// anything touches the ledger.
package nutrition

import (
	"fmt"
	"math"

	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/vision"
)

// Atwater factors and the consistency tolerance: the macro-derived energy must
// land within 25% of reported calories or 50 kcal, whichever is larger.
// Violations downgrade confidence instead of rejecting, since portion rounding
// by the model routinely drifts this check.
const (
	kcalPerGramProtein = 4
	kcalPerGramCarbs   = 4
	kcalPerGramFat     = 9
	relativeTolerance  = 0.25
	absoluteSlackKcal  = 50
)

// Bounds are the plausibility limits for a single meal.
type Bounds struct {
	MaxMealCalories float64
	MaxMacroGrams   float64
}

// ImplausibleError marks an estimate too absurd to record. The pipeline
// surfaces it as a final analysis failure; nothing is written to the ledger.
type ImplausibleError struct {
	RequestID string
	Reason    string
}

func (e *ImplausibleError) Error() string {
	return fmt.Sprintf("implausible estimate for %s: %s", e.RequestID, e.Reason)
}

// Normalize turns a parsed candidate into an immutable NutritionEstimate.
// Negative macros are clamped to zero and flagged LOW; a failed
// macro/calorie cross-check also downgrades to LOW.
func Normalize(requestID string, c vision.Candidate, b Bounds) (model.NutritionEstimate, error) {
	confidence := model.ConfidenceHigh

	clamp := func(v float64) float64 {
		if v < 0 {
			confidence = model.ConfidenceLow
			return 0
		}
		return v
	}
	est := model.NutritionEstimate{
		RequestID: requestID,
		Calories:  clamp(c.Calories),
		ProteinG:  clamp(c.ProteinG),
		FatG:      clamp(c.FatG),
		CarbsG:    clamp(c.CarbsG),
	}

	if est.Calories > b.MaxMealCalories {
		return model.NutritionEstimate{}, &ImplausibleError{
			RequestID: requestID,
			Reason:    fmt.Sprintf("calories %.0f exceed single-meal bound %.0f", est.Calories, b.MaxMealCalories),
		}
	}
	for name, grams := range map[string]float64{"protein": est.ProteinG, "fat": est.FatG, "carbs": est.CarbsG} {
		if grams > b.MaxMacroGrams {
			return model.NutritionEstimate{}, &ImplausibleError{
				RequestID: requestID,
				Reason:    fmt.Sprintf("%s %.0fg exceeds macro bound %.0fg", name, grams, b.MaxMacroGrams),
			}
		}
	}

	if !consistent(est) {
		confidence = model.ConfidenceLow
	}
	est.Confidence = confidence
	return est, nil
}

func consistent(est model.NutritionEstimate) bool {
	derived := kcalPerGramProtein*est.ProteinG + kcalPerGramCarbs*est.CarbsG + kcalPerGramFat*est.FatG
	tolerance := math.Max(relativeTolerance*est.Calories, absoluteSlackKcal)
	return math.Abs(derived-est.Calories) <= tolerance
}
