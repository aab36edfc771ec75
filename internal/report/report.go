// Package report computes daily and range summaries from ledger aggregates.
// Reports are pure reads of the ledger snapshot; missing days render as zero,
// never as errors.
package report

import (
	"context"
	"fmt"

	"github.com/Jekudy/nutrition-bot/internal/model"
)

// Store is the read-only slice of persistence reports need.
type Store interface {
	GetAggregate(ctx context.Context, userID int64, day model.Day) (model.DailyAggregate, error)
	GetProfile(ctx context.Context, userID int64) (model.UserProfile, bool, error)
}

// TargetComparison relates consumed calories to the profile's daily target.
type TargetComparison struct {
	TargetCalories    int     `json:"targetCalories"`
	RemainingCalories float64 `json:"remainingCalories"`
	PercentOfTarget   float64 `json:"percentOfTarget"`
}

// DailyReport is the summary for a single user-local day.
type DailyReport struct {
	UserID     int64             `json:"userId"`
	Day        model.Day         `json:"day"`
	Totals     model.Totals      `json:"totals"`
	EntryCount int               `json:"entryCount"`
	Target     *TargetComparison `json:"target,omitempty"`
}

// RangeReport sums a closed day window. Days holds one report per day in
// order, zero-valued where no entries exist.
type RangeReport struct {
	UserID int64         `json:"userId"`
	From   model.Day     `json:"from"`
	To     model.Day     `json:"to"`
	Days   []DailyReport `json:"days"`
	Totals model.Totals  `json:"totals"`
}

// maxRangeDays caps how wide a range query may get before it turns into an
// accidental table scan.
const maxRangeDays = 92

// Generator reads aggregates and renders reports.
type Generator struct {
	store Store
}

// NewGenerator constructs a Generator.
func NewGenerator(store Store) *Generator {
	return &Generator{store: store}
}

// Daily returns the totals for one day plus a target comparison when the
// profile declares a daily calorie target.
func (g *Generator) Daily(ctx context.Context, userID int64, day model.Day) (DailyReport, error) {
	agg, err := g.store.GetAggregate(ctx, userID, day)
	if err != nil {
		return DailyReport{}, fmt.Errorf("daily report for %d/%s: %w", userID, day, err)
	}
	rep := DailyReport{
		UserID:     userID,
		Day:        day,
		Totals:     agg.Totals,
		EntryCount: agg.EntryCount,
	}
	profile, ok, err := g.store.GetProfile(ctx, userID)
	if err != nil {
		return DailyReport{}, fmt.Errorf("daily report profile for %d: %w", userID, err)
	}
	if ok && profile.DailyCalorieTarget != nil && *profile.DailyCalorieTarget > 0 {
		target := *profile.DailyCalorieTarget
		rep.Target = &TargetComparison{
			TargetCalories:    target,
			RemainingCalories: float64(target) - agg.Totals.Calories,
			PercentOfTarget:   agg.Totals.Calories / float64(target) * 100,
		}
	}
	return rep, nil
}

// Range aggregates the closed window [from, to]. Days without entries
// contribute zero totals.
func (g *Generator) Range(ctx context.Context, userID int64, from, to model.Day) (RangeReport, error) {
	start, err := from.Time()
	if err != nil {
		return RangeReport{}, fmt.Errorf("range report: bad start day %q: %w", from, err)
	}
	end, err := to.Time()
	if err != nil {
		return RangeReport{}, fmt.Errorf("range report: bad end day %q: %w", to, err)
	}
	if end.Before(start) {
		return RangeReport{}, fmt.Errorf("range report: end %s before start %s", to, from)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxRangeDays {
		return RangeReport{}, fmt.Errorf("range report: window of %d days exceeds limit %d", days, maxRangeDays)
	}

	rep := RangeReport{UserID: userID, From: from, To: to}
	for day := from; ; day = day.Next() {
		agg, err := g.store.GetAggregate(ctx, userID, day)
		if err != nil {
			return RangeReport{}, fmt.Errorf("range report for %d/%s: %w", userID, day, err)
		}
		rep.Days = append(rep.Days, DailyReport{
			UserID:     userID,
			Day:        day,
			Totals:     agg.Totals,
			EntryCount: agg.EntryCount,
		})
		rep.Totals = rep.Totals.Add(agg.Totals)
		if day == to {
			break
		}
	}
	return rep, nil
}
