package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// AnalyzePhotoTask is scheduled each time a photo submission is accepted.
	AnalyzePhotoTask = "photo:analyze"
)

// AnalyzePayload is serialized into the task payload so the worker knows which
// request to process.
type AnalyzePayload struct {
	RequestID string `json:"request_id"`
}

// Dispatcher enqueues analysis work onto the Redis-backed queue.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher wraps an asynq client.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch enqueues an analysis job. Queue-level retries are disabled: retry
// discipline for the provider lives inside the vision client, and a request
// that reached a terminal state must not be re-run.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string) error {
	data, err := json.Marshal(AnalyzePayload{RequestID: requestID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(AnalyzePhotoTask, data)
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue analyze task: %w", err)
	}
	return nil
}
