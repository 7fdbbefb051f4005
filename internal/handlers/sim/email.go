package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"localqueue/internal/worker"
)

// EmailSimulation "sends" one message per recipient.
type EmailSimulation struct {
	StepDelay time.Duration
}

func (h EmailSimulation) Handle(ctx context.Context, taskID string, params map[string]any, report worker.ProgressFunc) (map[string]any, error) {
	recipients, err := recipientsParam(params)
	if err != nil {
		return nil, err
	}
	subject := cast.ToString(params["subject"])
	if subject == "" {
		subject = "(no subject)"
	}
	delay, err := stepDelay(params, h.StepDelay)
	if err != nil {
		return nil, err
	}

	for i := range recipients {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		report(taskID, (i+1)*100/len(recipients))
	}
	return map[string]any{
		"sent":       len(recipients),
		"recipients": recipients,
		"subject":    subject,
	}, nil
}

func recipientsParam(params map[string]any) ([]string, error) {
	var out []string
	if raw, ok := params["recipients"]; ok {
		list, err := cast.ToStringSliceE(raw)
		if err != nil {
			return nil, fmt.Errorf("recipients must be a list of addresses: %w", err)
		}
		out = append(out, list...)
	}
	if to := cast.ToString(params["to"]); to != "" {
		out = append(out, to)
	}
	if len(out) == 0 {
		return nil, errors.New("recipients or to is required")
	}
	for _, addr := range out {
		at := strings.Index(addr, "@")
		if at <= 0 || at == len(addr)-1 {
			return nil, fmt.Errorf("invalid recipient address %q", addr)
		}
	}
	return out, nil
}
