// Package processing is the in-process bounded worker pool used when no Redis
// queue is configured. Goroutines + channels power the implementation; each
// submitted photo remains an independent unit of work.
package processing

import (
	"context"
	"log"

	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/pipeline"
)

// Pool consumes analysis jobs and runs them through the pipeline.
type Pool struct {
	pipe     *pipeline.Pipeline
	requests pipeline.RequestStore
	queue    chan string
	workers  int
}

// NewPool builds a Pool with queue capacity tied to worker count.
func NewPool(pipe *pipeline.Pipeline, requests pipeline.RequestStore, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		pipe:     pipe,
		requests: requests,
		queue:    make(chan string, workers*4),
		workers:  workers,
	}
}

// Start launches worker goroutines that live until the context closes.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

// Dispatch queues a request for async processing. When the buffer is full the
// request is marked FAILED rather than blocking the submission path; the
// caller can resubmit safely because request identities are deterministic.
func (p *Pool) Dispatch(ctx context.Context, requestID string) error {
	select {
	case p.queue <- requestID:
		return nil
	default:
		log.Printf("processing queue full, dropping request %s", requestID)
		_, err := p.requests.TransitionRequest(ctx, requestID,
			[]model.RequestStatus{model.StatusPending}, model.StatusFailed,
			"analysis is temporarily unavailable, please try again later")
		return err
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case requestID := <-p.queue:
			if err := p.pipe.Process(ctx, requestID); err != nil {
				log.Printf("process request %s: %v", requestID, err)
			}
		}
	}
}
