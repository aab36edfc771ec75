// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// RequestStatus describes the analysis lifecycle. A request moves
// PENDING -> ANALYZING -> SUCCEEDED|FAILED; the terminal states are immutable.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAnalyzing RequestStatus = "analyzing"
	StatusSucceeded RequestStatus = "succeeded"
	StatusFailed    RequestStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Confidence flags how much the normalized estimate should be trusted.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// AnalysisRequest tracks one submitted photo through the pipeline. ObjectKey
// points at the stored photo bytes in the raw bucket.
type AnalysisRequest struct {
	ID           string        `json:"id"`
	UserID       int64         `json:"userId"`
	ObjectKey    string        `json:"objectKey"`
	Status       RequestStatus `json:"status"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	CapturedAt   time.Time     `json:"capturedAt"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// NutritionEstimate is the normalized outcome of one photo analysis. It is
// never mutated after validation assigns the confidence flag.
type NutritionEstimate struct {
	RequestID  string     `json:"requestId"`
	Calories   float64    `json:"calories"`
	ProteinG   float64    `json:"proteinG"`
	FatG       float64    `json:"fatG"`
	CarbsG     float64    `json:"carbsG"`
	Confidence Confidence `json:"confidence"`
}

// Day is a calendar date in the user's local timezone, formatted 2006-01-02.
type Day string

// DayOf converts an instant into the calendar day it falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	return Day(t.In(loc).Format(time.DateOnly))
}

// Time returns midnight of the day in UTC, mostly useful for range iteration.
func (d Day) Time() (time.Time, error) {
	return time.Parse(time.DateOnly, string(d))
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return Day(t.AddDate(0, 0, 1).Format(time.DateOnly))
}

// LedgerEntry is one accepted estimate pinned to a user's local day. At most
// one entry exists per (UserID, RequestID); the stores enforce that as a
// uniqueness constraint.
type LedgerEntry struct {
	UserID     int64             `json:"userId"`
	Day        Day               `json:"day"`
	RequestID  string            `json:"requestId"`
	Estimate   NutritionEstimate `json:"estimate"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Totals holds summed macro values.
type Totals struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"proteinG"`
	FatG     float64 `json:"fatG"`
	CarbsG   float64 `json:"carbsG"`
}

// Add returns the element-wise sum.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		Calories: t.Calories + o.Calories,
		ProteinG: t.ProteinG + o.ProteinG,
		FatG:     t.FatG + o.FatG,
		CarbsG:   t.CarbsG + o.CarbsG,
	}
}

// DailyAggregate is the running sum over all ledger entries sharing
// (UserID, Day). It is maintained in the same atomic unit as entry insertion
// and must always equal the recomputed sum of its entries.
type DailyAggregate struct {
	UserID     int64  `json:"userId"`
	Day        Day    `json:"day"`
	Totals     Totals `json:"totals"`
	EntryCount int    `json:"entryCount"`
}

// UserProfile carries the per-user settings this core reads: the timezone that
// fixes day boundaries and an optional daily calorie target. Ownership lives
// with the external user-configuration collaborator.
type UserProfile struct {
	UserID             int64  `json:"userId"`
	Timezone           string `json:"timezone"`
	DailyCalorieTarget *int   `json:"dailyCalorieTarget,omitempty"`
}
