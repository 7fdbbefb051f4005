// Package sim contains handlers that simulate typical background work
// (batch data processing, sending email, transforming images) with
// configurable per-step delays. They report progress after every step and
// stop as soon as their context is cancelled.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

const (
	TypeDataProcessing  = "data_processing"
	TypeEmailSimulation = "email_simulation"
	TypeImageProcessing = "image_processing"
)

// stepDelay reads step_delay_ms from params, falling back to def.
func stepDelay(params map[string]any, def time.Duration) (time.Duration, error) {
	raw, ok := params["step_delay_ms"]
	if !ok {
		return def, nil
	}
	ms, err := cast.ToIntE(raw)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("step_delay_ms must be a non-negative integer, got %v", raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 || ctx.Err() != nil {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func intParam(params map[string]any, name string, def int, required bool) (int, error) {
	raw, ok := params[name]
	if !ok {
		if required {
			return 0, fmt.Errorf("%s is required", name)
		}
		return def, nil
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %v", name, raw)
	}
	return v, nil
}
