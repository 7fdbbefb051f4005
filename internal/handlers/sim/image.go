package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"localqueue/internal/worker"
)

const thumbnailSize = 128

// ImageProcessing applies params["operations"] (default ["resize"]) to an
// image of params["width"] x params["height"] and reports the output size.
// Supported operations: resize (params["scale"], default 0.5), thumbnail,
// rotate, grayscale.
type ImageProcessing struct {
	StepDelay time.Duration
}

func (h ImageProcessing) Handle(ctx context.Context, taskID string, params map[string]any, report worker.ProgressFunc) (map[string]any, error) {
	width, err := intParam(params, "width", 0, true)
	if err != nil {
		return nil, err
	}
	height, err := intParam(params, "height", 0, true)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image dimensions must be positive, got %dx%d", width, height)
	}
	ops := []string{"resize"}
	if raw, ok := params["operations"]; ok {
		if ops, err = cast.ToStringSliceE(raw); err != nil {
			return nil, fmt.Errorf("operations must be a list: %w", err)
		}
	}
	scale := 0.5
	if raw, ok := params["scale"]; ok {
		if scale, err = cast.ToFloat64E(raw); err != nil || scale <= 0 {
			return nil, fmt.Errorf("scale must be a positive number, got %v", raw)
		}
	}
	for _, op := range ops {
		switch op {
		case "resize", "thumbnail", "rotate", "grayscale":
		default:
			return nil, fmt.Errorf("unsupported operation %q", op)
		}
	}
	delay, err := stepDelay(params, h.StepDelay)
	if err != nil {
		return nil, err
	}

	for i, op := range ops {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		switch op {
		case "resize":
			width = max(1, int(float64(width)*scale))
			height = max(1, int(float64(height)*scale))
		case "thumbnail":
			if width >= height && width > thumbnailSize {
				height = max(1, height*thumbnailSize/width)
				width = thumbnailSize
			} else if height > thumbnailSize {
				width = max(1, width*thumbnailSize/height)
				height = thumbnailSize
			}
		case "rotate":
			width, height = height, width
		}
		report(taskID, (i+1)*100/len(ops))
	}
	return map[string]any{
		"width":   width,
		"height":  height,
		"applied": ops,
		"output":  "processed_" + taskID + ".png",
	}, nil
}
