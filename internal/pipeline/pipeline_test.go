package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Jekudy/nutrition-bot/internal/ledger"
	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/nutrition"
	"github.com/Jekudy/nutrition-bot/internal/storage"
	"github.com/Jekudy/nutrition-bot/internal/vision"
)

type analyzerFunc func(ctx context.Context, requestID string, image []byte) (vision.Candidate, error)

func (f analyzerFunc) Analyze(ctx context.Context, requestID string, image []byte) (vision.Candidate, error) {
	return f(ctx, requestID, image)
}

var testBounds = nutrition.Bounds{MaxMealCalories: 4000, MaxMacroGrams: 1000}

type fixture struct {
	store  *storage.MemoryStore
	photos *storage.MemoryPhotoStore
	agg    *ledger.Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	agg, err := ledger.NewAggregator(store, "UTC")
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return &fixture{store: store, photos: storage.NewMemoryPhotoStore(), agg: agg}
}

func (f *fixture) pipeline(t *testing.T, analyzer Analyzer) *Pipeline {
	t.Helper()
	return New(f.store, f.photos, analyzer, f.agg, testBounds)
}

func (f *fixture) seedRequest(t *testing.T, id string, userID int64) model.AnalysisRequest {
	t.Helper()
	ctx := context.Background()
	objectKey := "photos/" + id + "/original"
	if err := f.photos.UploadPhoto(ctx, objectKey, []byte("jpeg-bytes"), "image/jpeg"); err != nil {
		t.Fatalf("upload photo: %v", err)
	}
	req, _, err := f.store.CreateRequestIfAbsent(ctx, model.AnalysisRequest{
		ID:         id,
		UserID:     userID,
		ObjectKey:  objectKey,
		Status:     model.StatusPending,
		CapturedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func (f *fixture) requestStatus(t *testing.T, id string) model.AnalysisRequest {
	t.Helper()
	req, err := f.store.GetRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	return req
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t, "req-1", 7)
	pipe := f.pipeline(t, analyzerFunc(func(ctx context.Context, requestID string, image []byte) (vision.Candidate, error) {
		return vision.Candidate{Calories: 600, ProteinG: 30, FatG: 20, CarbsG: 60}, nil
	}))

	if err := pipe.Process(context.Background(), "req-1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	req := f.requestStatus(t, "req-1")
	if req.Status != model.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", req.Status, req.ErrorMessage)
	}
	agg, err := f.store.GetAggregate(context.Background(), 7, "2024-01-01")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.EntryCount != 1 || agg.Totals.Calories != 600 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestProcessMalformedResponseFails(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t, "req-2", 7)
	pipe := f.pipeline(t, analyzerFunc(func(ctx context.Context, requestID string, image []byte) (vision.Candidate, error) {
		return vision.Candidate{}, &vision.AnalysisError{
			Kind:      vision.KindMalformed,
			RequestID: requestID,
			Err:       errors.New("no parsable payload"),
		}
	}))

	err := pipe.Process(context.Background(), "req-2")
	var analysisErr *vision.AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("expected the analysis error to surface, got %v", err)
	}
	req := f.requestStatus(t, "req-2")
	if req.Status != model.StatusFailed || req.ErrorMessage == "" {
		t.Fatalf("expected failed with a user message, got %+v", req)
	}
	agg, err := f.store.GetAggregate(context.Background(), 7, "2024-01-01")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.EntryCount != 0 {
		t.Fatalf("failed request must not reach the ledger: %+v", agg)
	}
}

func TestProcessRetryExhaustionFails(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t, "req-3", 7)
	client := vision.NewClient(visionTimeoutProvider{}, vision.Options{
		MaxRetries:  1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		CallTimeout: time.Second,
		Rate:        10000,
		Burst:       10000,
	})
	pipe := f.pipeline(t, client)

	if err := pipe.Process(context.Background(), "req-3"); err == nil {
		t.Fatalf("expected error after retry exhaustion")
	}
	req := f.requestStatus(t, "req-3")
	if req.Status != model.StatusFailed {
		t.Fatalf("expected failed, got %s", req.Status)
	}
	agg, err := f.store.GetAggregate(context.Background(), 7, "2024-01-01")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.EntryCount != 0 {
		t.Fatalf("exhausted request must not reach the ledger: %+v", agg)
	}
}

type visionTimeoutProvider struct{}

func (visionTimeoutProvider) Send(ctx context.Context, image []byte, prompt string) (string, error) {
	return "", &vision.AnalysisError{Kind: vision.KindTimeout, Err: errors.New("deadline exceeded")}
}

func TestProcessDuplicateDeliveryNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t, "req-4", 7)
	pipe := f.pipeline(t, analyzerFunc(func(ctx context.Context, requestID string, image []byte) (vision.Candidate, error) {
		return vision.Candidate{Calories: 600, ProteinG: 30, FatG: 20, CarbsG: 60}, nil
	}))

	if err := pipe.Process(context.Background(), "req-4"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := pipe.Process(context.Background(), "req-4"); err != nil {
		t.Fatalf("redelivered process: %v", err)
	}
	agg, err := f.store.GetAggregate(context.Background(), 7, "2024-01-01")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.EntryCount != 1 || agg.Totals.Calories != 600 {
		t.Fatalf("redelivery must not double count: %+v", agg)
	}
}

func TestProcessCancelledRequestSkipped(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t, "req-5", 7)
	ctx := context.Background()
	if _, err := f.store.TransitionRequest(ctx, "req-5", []model.RequestStatus{model.StatusPending}, model.StatusFailed, "cancelled by user"); err != nil {
		t.Fatalf("cancel request: %v", err)
	}
	pipe := f.pipeline(t, analyzerFunc(func(ctx context.Context, requestID string, image []byte) (vision.Candidate, error) {
		t.Fatalf("cancelled request must not be analyzed")
		return vision.Candidate{}, nil
	}))

	if err := pipe.Process(ctx, "req-5"); err != nil {
		t.Fatalf("process: %v", err)
	}
	req := f.requestStatus(t, "req-5")
	if req.Status != model.StatusFailed || req.ErrorMessage != "cancelled by user" {
		t.Fatalf("cancelled request must stay untouched: %+v", req)
	}
}

// cancelBeforeSucceedStore injects a cancellation into the gap between
// recording and the final transition to SUCCEEDED.
type cancelBeforeSucceedStore struct {
	*storage.MemoryStore
}

func (s *cancelBeforeSucceedStore) TransitionRequest(ctx context.Context, id string, from []model.RequestStatus, to model.RequestStatus, message string) (bool, error) {
	if to == model.StatusSucceeded {
		if _, err := s.MemoryStore.TransitionRequest(ctx, id, []model.RequestStatus{model.StatusAnalyzing}, model.StatusFailed, "cancelled by user"); err != nil {
			return false, err
		}
	}
	return s.MemoryStore.TransitionRequest(ctx, id, from, to, message)
}

func TestProcessCancellationDuringRecordingRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t, "req-7", 7)
	pipe := New(&cancelBeforeSucceedStore{MemoryStore: f.store}, f.photos, analyzerFunc(func(ctx context.Context, requestID string, image []byte) (vision.Candidate, error) {
		return vision.Candidate{Calories: 600, ProteinG: 30, FatG: 20, CarbsG: 60}, nil
	}), f.agg, testBounds)

	if err := pipe.Process(context.Background(), "req-7"); err != nil {
		t.Fatalf("process: %v", err)
	}
	req := f.requestStatus(t, "req-7")
	if req.Status != model.StatusFailed {
		t.Fatalf("expected the cancellation to stick, got %s", req.Status)
	}
	agg, err := f.store.GetAggregate(context.Background(), 7, "2024-01-01")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.EntryCount != 0 || agg.Totals.Calories != 0 {
		t.Fatalf("recorded estimate must be rolled back after cancellation: %+v", agg)
	}
	entries, err := f.store.ListEntries(context.Background(), 7, "2024-01-01")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no surviving entries, got %d", len(entries))
	}
}

func TestProcessMidFlightCancellationDiscardsResult(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t, "req-6", 7)
	pipe := f.pipeline(t, analyzerFunc(func(ctx context.Context, requestID string, image []byte) (vision.Candidate, error) {
		// Cancellation lands while the provider call is in flight.
		if _, err := f.store.TransitionRequest(ctx, requestID, []model.RequestStatus{model.StatusAnalyzing}, model.StatusFailed, "cancelled by user"); err != nil {
			t.Fatalf("cancel mid-flight: %v", err)
		}
		return vision.Candidate{Calories: 600, ProteinG: 30, FatG: 20, CarbsG: 60}, nil
	}))

	if err := pipe.Process(context.Background(), "req-6"); err != nil {
		t.Fatalf("process: %v", err)
	}
	agg, err := f.store.GetAggregate(context.Background(), 7, "2024-01-01")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.EntryCount != 0 {
		t.Fatalf("late result after cancellation must be discarded: %+v", agg)
	}
	req := f.requestStatus(t, "req-6")
	if req.Status != model.StatusFailed {
		t.Fatalf("expected the cancellation to stick, got %s", req.Status)
	}
}
