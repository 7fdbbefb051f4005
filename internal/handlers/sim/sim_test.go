package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progress struct {
	ids    []string
	values []int
}

func (p *progress) report(id string, percent int) {
	p.ids = append(p.ids, id)
	p.values = append(p.values, percent)
}

func TestDataProcessing(t *testing.T) {
	var p progress
	out, err := DataProcessing{}.Handle(context.Background(), "t1", map[string]any{"rows": float64(100)}, p.report)
	require.NoError(t, err)
	assert.Equal(t, 100, out["rows_processed"])
	assert.Equal(t, 10, out["batches"])
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, p.values)
	for _, id := range p.ids {
		assert.Equal(t, "t1", id)
	}
}

func TestDataProcessingUnevenBatches(t *testing.T) {
	var p progress
	out, err := DataProcessing{}.Handle(context.Background(), "t1", map[string]any{"rows": "25", "batch_size": 10}, p.report)
	require.NoError(t, err)
	assert.Equal(t, 25, out["rows_processed"])
	assert.Equal(t, 3, out["batches"])
	assert.Equal(t, []int{40, 80, 100}, p.values)
}

func TestDataProcessingRejectsBadParams(t *testing.T) {
	cases := map[string]map[string]any{
		"missing rows":   {},
		"rows not a num": {"rows": "lots"},
		"negative rows":  {"rows": -1},
		"zero batch":     {"rows": 5, "batch_size": 0},
		"bad delay":      {"rows": 5, "step_delay_ms": "soon"},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DataProcessing{}.Handle(context.Background(), "t1", params, func(string, int) {})
			assert.Error(t, err)
		})
	}
}

func TestDataProcessingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var p progress
	report := func(id string, percent int) {
		p.report(id, percent)
		if percent >= 20 {
			cancel()
		}
	}
	_, err := DataProcessing{StepDelay: time.Millisecond}.Handle(ctx, "t1", map[string]any{"rows": 100}, report)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{10, 20}, p.values)
}

func TestEmailSimulation(t *testing.T) {
	var p progress
	out, err := EmailSimulation{}.Handle(context.Background(), "t1", map[string]any{
		"recipients": []any{"a@example.com", "b@example.com"},
		"to":         "c@example.com",
		"subject":    "weekly report",
	}, p.report)
	require.NoError(t, err)
	assert.Equal(t, 3, out["sent"])
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, out["recipients"])
	assert.Equal(t, "weekly report", out["subject"])
	assert.Equal(t, []int{33, 66, 100}, p.values)
}

func TestEmailSimulationValidation(t *testing.T) {
	_, err := EmailSimulation{}.Handle(context.Background(), "t1", map[string]any{}, func(string, int) {})
	assert.EqualError(t, err, "recipients or to is required")

	_, err = EmailSimulation{}.Handle(context.Background(), "t1", map[string]any{"to": "not-an-address"}, func(string, int) {})
	assert.ErrorContains(t, err, "invalid recipient address")
}

func TestImageProcessing(t *testing.T) {
	var p progress
	out, err := ImageProcessing{}.Handle(context.Background(), "img", map[string]any{
		"width":      1024,
		"height":     768,
		"operations": []any{"resize", "rotate", "grayscale"},
	}, p.report)
	require.NoError(t, err)
	assert.Equal(t, 384, out["width"])
	assert.Equal(t, 512, out["height"])
	assert.Equal(t, []string{"resize", "rotate", "grayscale"}, out["applied"])
	assert.Equal(t, "processed_img.png", out["output"])
	assert.Equal(t, []int{33, 66, 100}, p.values)
}

func TestImageProcessingThumbnail(t *testing.T) {
	out, err := ImageProcessing{}.Handle(context.Background(), "img", map[string]any{
		"width": 800, "height": 400, "operations": []string{"thumbnail"},
	}, func(string, int) {})
	require.NoError(t, err)
	assert.Equal(t, 128, out["width"])
	assert.Equal(t, 64, out["height"])
}

func TestImageProcessingValidation(t *testing.T) {
	_, err := ImageProcessing{}.Handle(context.Background(), "img", map[string]any{"width": 10}, func(string, int) {})
	assert.EqualError(t, err, "height is required")

	_, err = ImageProcessing{}.Handle(context.Background(), "img", map[string]any{"width": 10, "height": 0}, func(string, int) {})
	assert.ErrorContains(t, err, "must be positive")

	_, err = ImageProcessing{}.Handle(context.Background(), "img", map[string]any{
		"width": 10, "height": 10, "operations": []any{"sharpen"},
	}, func(string, int) {})
	assert.EqualError(t, err, `unsupported operation "sharpen"`)
}
