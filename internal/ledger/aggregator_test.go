package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/storage"
)

func newTestAggregator(t *testing.T) (*Aggregator, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	agg, err := NewAggregator(store, "UTC")
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return agg, store
}

func estimate(requestID string, calories float64) model.NutritionEstimate {
	return model.NutritionEstimate{
		RequestID:  requestID,
		Calories:   calories,
		ProteinG:   calories / 20,
		FatG:       calories / 30,
		CarbsG:     calories / 10,
		Confidence: model.ConfidenceHigh,
	}
}

func TestRecordIdempotentSequential(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	first, err := agg.Record(ctx, 7, "req-1", estimate("req-1", 500), at)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := agg.Record(ctx, 7, "req-1", estimate("req-1", 500), at)
	if err != nil {
		t.Fatalf("duplicate record: %v", err)
	}
	if second != first {
		t.Fatalf("duplicate record changed the aggregate: %+v vs %+v", second, first)
	}
	if second.EntryCount != 1 || second.Totals.Calories != 500 {
		t.Fatalf("unexpected aggregate: %+v", second)
	}
}

func TestRecordIdempotentConcurrent(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := agg.Record(ctx, 7, "req-1", estimate("req-1", 500), at); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent record: %v", err)
	}

	final, err := agg.Record(ctx, 7, "req-1", estimate("req-1", 500), at)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if final.EntryCount != 1 || final.Totals.Calories != 500 {
		t.Fatalf("concurrent duplicates double counted: %+v", final)
	}
}

func TestRecordExactness(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	var wantCalories float64
	for i := 0; i < 10; i++ {
		calories := float64(100 + 50*i)
		wantCalories += calories
		id := fmt.Sprintf("req-%d", i)
		if _, err := agg.Record(ctx, 7, id, estimate(id, calories), at); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	day := model.DayOf(at, time.UTC)
	ok, err := agg.VerifyAggregate(ctx, 7, day)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("aggregate does not match recomputed entries")
	}
	final, err := agg.Record(ctx, 7, "req-0", estimate("req-0", 100), at)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if final.Totals.Calories != wantCalories || final.EntryCount != 10 {
		t.Fatalf("unexpected totals: %+v (want %.0f kcal over 10 entries)", final, wantCalories)
	}
}

func TestRecordTimezoneBoundary(t *testing.T) {
	agg, store := newTestAggregator(t)
	ctx := context.Background()
	if err := store.UpsertProfile(ctx, model.UserProfile{UserID: 9, Timezone: "Asia/Tokyo"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}

	// Local 2024-01-01T23:30+09:00 is UTC 2024-01-01T14:30.
	before, err := agg.Record(ctx, 9, "req-a", estimate("req-a", 300),
		time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if before.Day != model.Day("2024-01-01") {
		t.Fatalf("expected local day 2024-01-01, got %s", before.Day)
	}

	// Local 2024-01-02T00:05+09:00 is UTC 2024-01-01T15:05.
	after, err := agg.Record(ctx, 9, "req-b", estimate("req-b", 300),
		time.Date(2024, 1, 1, 15, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if after.Day != model.Day("2024-01-02") {
		t.Fatalf("expected local day 2024-01-02, got %s", after.Day)
	}
}

func TestDayForFallsBackWithoutProfile(t *testing.T) {
	agg, store := newTestAggregator(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 10, 23, 45, 0, 0, time.UTC)

	day, err := agg.DayFor(ctx, 11, at)
	if err != nil {
		t.Fatalf("day for: %v", err)
	}
	if day != model.Day("2024-03-10") {
		t.Fatalf("expected fallback UTC day, got %s", day)
	}

	// A profile with a broken zone also falls back.
	if err := store.UpsertProfile(ctx, model.UserProfile{UserID: 11, Timezone: "Not/AZone"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	day, err = agg.DayFor(ctx, 11, at)
	if err != nil {
		t.Fatalf("day for: %v", err)
	}
	if day != model.Day("2024-03-10") {
		t.Fatalf("expected fallback UTC day, got %s", day)
	}
}
