// Package pipeline drives one analysis request from PENDING to a terminal
// state: fetch the photo, call the vision client, validate the estimate, and
// record it into the ledger exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Jekudy/nutrition-bot/internal/ledger"
	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/nutrition"
	"github.com/Jekudy/nutrition-bot/internal/vision"
)

// RequestStore is the request-lifecycle slice of persistence.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (model.AnalysisRequest, error)
	TransitionRequest(ctx context.Context, id string, from []model.RequestStatus, to model.RequestStatus, message string) (bool, error)
}

// PhotoFetcher retrieves the stored photo bytes.
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, objectKey string) ([]byte, error)
}

// Analyzer produces a raw schema candidate for an image. *vision.Client is the
// production implementation.
type Analyzer interface {
	Analyze(ctx context.Context, requestID string, image []byte) (vision.Candidate, error)
}

// Pipeline wires the stages together.
type Pipeline struct {
	requests   RequestStore
	photos     PhotoFetcher
	analyzer   Analyzer
	aggregator *ledger.Aggregator
	bounds     nutrition.Bounds
}

// New constructs a Pipeline.
func New(requests RequestStore, photos PhotoFetcher, analyzer Analyzer, aggregator *ledger.Aggregator, bounds nutrition.Bounds) *Pipeline {
	return &Pipeline{
		requests:   requests,
		photos:     photos,
		analyzer:   analyzer,
		aggregator: aggregator,
		bounds:     bounds,
	}
}

// Process runs one request to completion. It is safe to call for a request in
// any state: anything not PENDING is left alone, so duplicate deliveries and
// cancelled requests are no-ops.
func (p *Pipeline) Process(ctx context.Context, requestID string) error {
	req, err := p.requests.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	started, err := p.requests.TransitionRequest(ctx, requestID, []model.RequestStatus{model.StatusPending}, model.StatusAnalyzing, "")
	if err != nil {
		return fmt.Errorf("start request %s: %w", requestID, err)
	}
	if !started {
		log.Printf("pipeline: request %s not pending (status %s), skipping", requestID, req.Status)
		return nil
	}
	failure := func(userMessage string, cause error) error {
		log.Printf("pipeline: request %s failed: %v", requestID, cause)
		if _, err := p.requests.TransitionRequest(ctx, requestID, []model.RequestStatus{model.StatusAnalyzing}, model.StatusFailed, userMessage); err != nil {
			log.Printf("pipeline: mark failed for %s: %v", requestID, err)
		}
		return cause
	}

	image, err := p.photos.FetchPhoto(ctx, req.ObjectKey)
	if err != nil {
		return failure("analysis is temporarily unavailable, please try again later", fmt.Errorf("fetch photo: %w", err))
	}

	candidate, err := p.analyzer.Analyze(ctx, requestID, image)
	if err != nil {
		var analysisErr *vision.AnalysisError
		if errors.As(err, &analysisErr) {
			return failure(analysisErr.UserMessage(), analysisErr)
		}
		return failure("analysis is temporarily unavailable, please try again later", err)
	}

	estimate, err := nutrition.Normalize(requestID, candidate, p.bounds)
	if err != nil {
		// Implausible estimates read like malformed responses to the user.
		return failure("could not read this image, please retake the photo", err)
	}

	// A request cancelled while the provider call was in flight must not reach
	// the ledger.
	current, err := p.requests.GetRequest(ctx, requestID)
	if err != nil {
		return failure("analysis is temporarily unavailable, please try again later", fmt.Errorf("recheck request: %w", err))
	}
	if current.Status != model.StatusAnalyzing {
		log.Printf("pipeline: request %s left analyzing (status %s), discarding result", requestID, current.Status)
		return nil
	}

	agg, err := p.aggregator.Record(ctx, req.UserID, requestID, estimate, req.CapturedAt)
	if err != nil {
		return failure("analysis is temporarily unavailable, please try again later", err)
	}

	succeeded, err := p.requests.TransitionRequest(ctx, requestID, []model.RequestStatus{model.StatusAnalyzing}, model.StatusSucceeded, "")
	if err != nil {
		return fmt.Errorf("mark succeeded for %s: %w", requestID, err)
	}
	if !succeeded {
		// A cancellation slipped in between Record and this transition; the
		// recorded estimate must not survive it.
		log.Printf("pipeline: request %s was cancelled during recording, rolling back", requestID)
		if err := p.aggregator.Rollback(ctx, req.UserID, requestID, req.CapturedAt); err != nil {
			return fmt.Errorf("rollback cancelled request %s: %w", requestID, err)
		}
		return nil
	}
	log.Printf("pipeline: request %s recorded, day %s now %.0f kcal over %d entries",
		requestID, agg.Day, agg.Totals.Calories, agg.EntryCount)
	return nil
}
