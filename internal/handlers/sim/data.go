package sim

import (
	"context"
	"fmt"
	"time"

	"localqueue/internal/worker"
)

// DataProcessing pretends to process params["rows"] rows in batches of
// params["batch_size"] (default 10).
type DataProcessing struct {
	StepDelay time.Duration
}

func (h DataProcessing) Handle(ctx context.Context, taskID string, params map[string]any, report worker.ProgressFunc) (map[string]any, error) {
	rows, err := intParam(params, "rows", 0, true)
	if err != nil {
		return nil, err
	}
	if rows < 0 {
		return nil, fmt.Errorf("rows must not be negative, got %d", rows)
	}
	batch, err := intParam(params, "batch_size", 10, false)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", batch)
	}
	delay, err := stepDelay(params, h.StepDelay)
	if err != nil {
		return nil, err
	}

	processed, batches := 0, 0
	for processed < rows {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		processed += min(batch, rows-processed)
		batches++
		report(taskID, processed*100/rows)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return map[string]any{
		"rows_processed": processed,
		"batches":        batches,
	}, nil
}
