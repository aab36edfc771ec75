package report

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/storage"
)

func seedEntry(t *testing.T, store *storage.MemoryStore, userID int64, day model.Day, requestID string, calories float64) {
	t.Helper()
	_, _, err := store.UpsertEntry(context.Background(), model.LedgerEntry{
		UserID:    userID,
		Day:       day,
		RequestID: requestID,
		Estimate: model.NutritionEstimate{
			RequestID:  requestID,
			Calories:   calories,
			ProteinG:   20,
			FatG:       10,
			CarbsG:     40,
			Confidence: model.ConfidenceHigh,
		},
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed entry %s: %v", requestID, err)
	}
}

func TestDailyReportWithTarget(t *testing.T) {
	store := storage.NewMemoryStore()
	target := 2000
	if err := store.UpsertProfile(context.Background(), model.UserProfile{
		UserID: 7, Timezone: "UTC", DailyCalorieTarget: &target,
	}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	seedEntry(t, store, 7, "2024-01-01", "req-1", 600)
	seedEntry(t, store, 7, "2024-01-01", "req-2", 400)

	gen := NewGenerator(store)
	rep, err := gen.Daily(context.Background(), 7, "2024-01-01")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if rep.Totals.Calories != 1000 || rep.EntryCount != 2 {
		t.Fatalf("unexpected totals: %+v", rep)
	}
	if rep.Target == nil {
		t.Fatalf("expected target comparison")
	}
	if rep.Target.RemainingCalories != 1000 || rep.Target.PercentOfTarget != 50 {
		t.Fatalf("unexpected target comparison: %+v", rep.Target)
	}
}

func TestDailyReportMissingDayIsZero(t *testing.T) {
	gen := NewGenerator(storage.NewMemoryStore())
	rep, err := gen.Daily(context.Background(), 7, "2024-06-15")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if rep.Totals != (model.Totals{}) || rep.EntryCount != 0 {
		t.Fatalf("missing day should be zero-valued, got %+v", rep)
	}
	if rep.Target != nil {
		t.Fatalf("no profile means no target comparison")
	}
}

func TestRangeReportZeroFillsGaps(t *testing.T) {
	store := storage.NewMemoryStore()
	seedEntry(t, store, 7, "2024-01-01", "req-1", 500)
	seedEntry(t, store, 7, "2024-01-03", "req-2", 700)

	gen := NewGenerator(store)
	rep, err := gen.Range(context.Background(), 7, "2024-01-01", "2024-01-04")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rep.Days) != 4 {
		t.Fatalf("expected 4 days, got %d", len(rep.Days))
	}
	if rep.Days[1].Totals.Calories != 0 || rep.Days[3].Totals.Calories != 0 {
		t.Fatalf("gap days must be zero, got %+v", rep.Days)
	}
	if rep.Totals.Calories != 1200 {
		t.Fatalf("expected 1200 kcal across window, got %.0f", rep.Totals.Calories)
	}
}

func TestRangeReportRejectsBadWindow(t *testing.T) {
	gen := NewGenerator(storage.NewMemoryStore())
	if _, err := gen.Range(context.Background(), 7, "2024-01-05", "2024-01-01"); err == nil {
		t.Fatalf("expected error for inverted window")
	}
	if _, err := gen.Range(context.Background(), 7, "not-a-day", "2024-01-01"); err == nil {
		t.Fatalf("expected error for malformed day")
	}
}

func TestReportsArePureReads(t *testing.T) {
	store := storage.NewMemoryStore()
	seedEntry(t, store, 7, "2024-01-01", "req-1", 500)
	gen := NewGenerator(store)

	first, err := gen.Range(context.Background(), 7, "2024-01-01", "2024-01-02")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	second, err := gen.Range(context.Background(), 7, "2024-01-01", "2024-01-02")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different reports")
	}
}
