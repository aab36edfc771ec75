package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/Jekudy/nutrition-bot/internal/pipeline"
	"github.com/Jekudy/nutrition-bot/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	pipe *pipeline.Pipeline
}

// NewProcessor constructs a worker processor.
func NewProcessor(pipe *pipeline.Pipeline) *Processor {
	return &Processor{pipe: pipe}
}

// Handler registers the analyze job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.AnalyzePhotoTask, p.handleAnalyze)
	return mux
}

func (p *Processor) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	var payload queue.AnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return p.pipe.Process(ctx, payload.RequestID)
}
