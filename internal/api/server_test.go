package api

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Jekudy/nutrition-bot/internal/config"
	"github.com/Jekudy/nutrition-bot/internal/ingest"
	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/report"
	"github.com/Jekudy/nutrition-bot/internal/storage"
)

// recordingDispatcher captures dispatched request ids and can be set to fail.
type recordingDispatcher struct {
	err        error
	dispatched []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, requestID string) error {
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, requestID)
	return nil
}

func jpegPayload(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	return data
}

func newTestServer(dispatcher *recordingDispatcher) (*Server, *storage.MemoryStore, *ingest.Gateway) {
	store := storage.NewMemoryStore()
	photos := storage.NewMemoryPhotoStore()
	gateway := ingest.NewGateway(store, photos, 1<<20, []string{"image/jpeg"})
	cfg := &config.Config{MaxImageBytes: 1 << 20}
	srv := New(cfg, gateway, dispatcher, store, report.NewGenerator(store), store)
	return srv, store, gateway
}

func photoRequest(t *testing.T, userID int64, capturedAt string, image []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("user_id", strconv.FormatInt(userID, 10)); err != nil {
		t.Fatalf("write user_id: %v", err)
	}
	if capturedAt != "" {
		if err := writer.WriteField("captured_at", capturedAt); err != nil {
			t.Fatalf("write captured_at: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", "meal.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(image); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/photos", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestSubmitDispatchesNewRequest(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	srv, store, _ := newTestServer(dispatcher)

	rec := httptest.NewRecorder()
	srv.handlePhotos(rec, photoRequest(t, 7, "2024-01-01T12:30:00Z", jpegPayload(256)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(dispatcher.dispatched))
	}
	req, err := store.GetRequest(context.Background(), dispatcher.dispatched[0])
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if req.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
}

func TestSubmitRedispatchesStuckPendingRequest(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	srv, _, gateway := newTestServer(dispatcher)
	image := jpegPayload(256)
	capturedAt := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)

	// The request exists in PENDING but its dispatch was lost.
	first, _, err := gateway.Submit(context.Background(), 7, image, capturedAt)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.handlePhotos(rec, photoRequest(t, 7, capturedAt.Add(10*time.Minute).Format(time.RFC3339), image))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != first.ID {
		t.Fatalf("resubmission must re-enqueue the stuck request, dispatched %v", dispatcher.dispatched)
	}
}

func TestSubmitDispatchFailureMarksRequestFailed(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("queue unavailable")}
	srv, store, _ := newTestServer(dispatcher)
	image := jpegPayload(256)
	capturedAt := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	srv.handlePhotos(rec, photoRequest(t, 7, capturedAt.Format(time.RFC3339), image))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	id := ingest.DeriveRequestID(7, capturedAt, image)
	req, err := store.GetRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if req.Status != model.StatusFailed || req.ErrorMessage == "" {
		t.Fatalf("undispatchable request must be failed with a message, got %+v", req)
	}
}
