package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// Command is a fully prepared compression tool invocation.
type Command struct {
	Path   string // <binary directory>/<binary name>
	Args   []string
	Env    []string
	Dir    string    // working directory; empty inherits the launcher's
	Output io.Writer // receives stdout and stderr; nil discards both
}

// Result is how a tool process ended.
type Result struct {
	ExitCode int
	Signal   string // set when the process was killed by a signal
}

// Runner starts a prepared command.
type Runner interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// Process is a started tool. Wait blocks until it exits.
type Process interface {
	Wait() (Result, error)
}

// waitDelay bounds how long Wait keeps draining output after the tool was
// killed, in case a grandchild still holds the pipe.
const waitDelay = 2 * time.Second

// LocalRunner runs tools as plain OS processes on the host.
type LocalRunner struct{}

// Start launches the command in its own process group. Cancelling ctx kills
// the whole group.
func (LocalRunner) Start(ctx context.Context, c Command) (Process, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir

	// The same writer for both streams makes os/exec share one pipe, so
	// stdout and stderr chunks keep their arrival order.
	if c.Output != nil {
		cmd.Stdout = c.Output
		cmd.Stderr = c.Output
	}

	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd.Process)
	}
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &localProcess{cmd: cmd}, nil
}

type localProcess struct {
	cmd *exec.Cmd
}

func (p *localProcess) Wait() (Result, error) {
	err := p.cmd.Wait()
	if err == nil {
		return Result{}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{
			ExitCode: exitErr.ExitCode(),
			Signal:   exitSignal(exitErr.ProcessState),
		}, nil
	}

	// Output copying outlived the process; its exit status is still valid.
	if errors.Is(err, exec.ErrWaitDelay) && p.cmd.ProcessState != nil {
		return Result{
			ExitCode: p.cmd.ProcessState.ExitCode(),
			Signal:   exitSignal(p.cmd.ProcessState),
		}, nil
	}

	return Result{}, fmt.Errorf("wait: %w", err)
}
