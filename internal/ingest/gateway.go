// Package ingest validates incoming photos, derives a stable request identity,
// and creates the PENDING analysis request that the rest of the pipeline works
// on.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Jekudy/nutrition-bot/internal/model"
)

// ValidationError covers bad, oversized, or unsupported input. It is
// user-facing and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + e.Reason
}

// RequestStore is the slice of persistence the gateway needs: create a request
// record unless one with the same identity already exists.
type RequestStore interface {
	CreateRequestIfAbsent(ctx context.Context, req model.AnalysisRequest) (model.AnalysisRequest, bool, error)
}

// PhotoStore uploads the raw photo bytes so the worker can fetch them later.
type PhotoStore interface {
	UploadPhoto(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// Gateway is the ingestion entry point.
type Gateway struct {
	requests RequestStore
	photos   PhotoStore
	maxBytes int64
	formats  map[string]struct{}
}

// NewGateway constructs a Gateway. allowedFormats holds MIME types such as
// "image/jpeg"; detection is by content sniffing, not by declared type.
func NewGateway(requests RequestStore, photos PhotoStore, maxBytes int64, allowedFormats []string) *Gateway {
	formats := make(map[string]struct{}, len(allowedFormats))
	for _, f := range allowedFormats {
		formats[f] = struct{}{}
	}
	return &Gateway{
		requests: requests,
		photos:   photos,
		maxBytes: maxBytes,
		formats:  formats,
	}
}

// Submit validates the photo, stores it, and creates the analysis request in
// PENDING. capturedAt may be zero, in which case receipt time is used. The
// returned bool is false when an identical submission already existed; callers
// get the original request back and nothing new is written.
func (g *Gateway) Submit(ctx context.Context, userID int64, image []byte, capturedAt time.Time) (model.AnalysisRequest, bool, error) {
	contentType, err := g.validate(userID, image)
	if err != nil {
		return model.AnalysisRequest{}, false, err
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	id := DeriveRequestID(userID, capturedAt, image)
	objectKey := fmt.Sprintf("photos/%s/original", id)
	if err := g.photos.UploadPhoto(ctx, objectKey, image, contentType); err != nil {
		return model.AnalysisRequest{}, false, fmt.Errorf("store photo: %w", err)
	}
	req := model.AnalysisRequest{
		ID:         id,
		UserID:     userID,
		ObjectKey:  objectKey,
		Status:     model.StatusPending,
		CapturedAt: capturedAt.UTC(),
	}
	stored, inserted, err := g.requests.CreateRequestIfAbsent(ctx, req)
	if err != nil {
		return model.AnalysisRequest{}, false, fmt.Errorf("create request %s: %w", id, err)
	}
	return stored, inserted, nil
}

func (g *Gateway) validate(userID int64, image []byte) (string, error) {
	if userID <= 0 {
		return "", &ValidationError{Reason: "missing user id"}
	}
	if len(image) == 0 {
		return "", &ValidationError{Reason: "empty image payload"}
	}
	if int64(len(image)) > g.maxBytes {
		return "", &ValidationError{Reason: fmt.Sprintf("image exceeds limit (%d bytes)", g.maxBytes)}
	}
	sniff := image
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	contentType := http.DetectContentType(sniff)
	if _, ok := g.formats[contentType]; !ok {
		return "", &ValidationError{Reason: "unsupported image format " + contentType}
	}
	return contentType, nil
}
