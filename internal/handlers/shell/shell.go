package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cast"

	"localqueue/internal/worker"
)

const Type = "shell"

// Shell runs params["command"] with params["args"]. The process is killed
// when the task is cancelled.
type Shell struct{}

type Cmd struct {
	Command string
	Args    []string
}

func parseCmd(params map[string]any) (Cmd, error) {
	c := Cmd{Command: cast.ToString(params["command"])}
	if c.Command == "" {
		return c, fmt.Errorf("command is required")
	}
	if raw, ok := params["args"]; ok {
		args, err := cast.ToStringSliceE(raw)
		if err != nil {
			return c, fmt.Errorf("args must be a list of strings: %w", err)
		}
		c.Args = args
	}
	return c, nil
}

func (h Shell) Handle(ctx context.Context, taskID string, params map[string]any, report worker.ProgressFunc) (map[string]any, error) {
	c, err := parseCmd(params)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Command, err)
	}
	report(taskID, 10)
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return nil, fmt.Errorf("shell error: exit code %d; out=%s", exit.ExitCode(), out.String())
		}
		return nil, fmt.Errorf("shell error: %v; out=%s", err, out.String())
	}
	return map[string]any{
		"output":    out.String(),
		"exit_code": 0,
	}, nil
}
