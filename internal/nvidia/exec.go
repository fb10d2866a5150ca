package nvidia

import (
	"context"
	"errors"
	"os/exec"
)

// Result is the outcome of a tool invocation that managed to start.
type Result struct {
	Output   string
	ExitCode int
}

// Exec runs one external tool and waits for it. A non-zero exit status is
// reported through Result.ExitCode; err is reserved for failures to start.
type Exec interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// CommandExec runs tools with os/exec and captures combined output.
type CommandExec struct{}

func (CommandExec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	res := Result{Output: string(out)}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
