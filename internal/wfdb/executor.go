package wfdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Executor runs package build commands through the shell, isolating each in
// its own process group so cancellation tears down the whole pipeline, not
// just the top-level sh.
type Executor struct {
	Context           context.Context // The context to use for cancellation
	ApplyIdlePriority bool            // Apply nice -n 19 to build commands
}

func NewExecutor(ctx context.Context) *Executor {
	return &Executor{Context: ctx}
}

// LaunchError reports a command that could not be started or was torn down
// before producing an exit status. A non-zero exit status is not a
// LaunchError; it is reported through RunResult.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to run command %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// RunResult captures the outcome of one shell command.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r *RunResult) Success() bool { return r.ExitCode == 0 }

// RunShell executes command via sh -c in dir with the given environment.
// Output is captured into the result and, when sink is non-nil, teed there
// as it is produced. The error return is launch-level only: a command that
// ran and exited non-zero yields a RunResult and a nil error.
func (e *Executor) RunShell(command, dir string, env map[string]string, sink io.Writer) (*RunResult, error) {
	cmd := exec.Command("sh", "-c", command)

	// Apply IDLE/NICENESS wrapper if requested
	if e.ApplyIdlePriority {
		cmd = exec.Command("nice", "-n", "19", "sh", "-c", command)
	}

	cmd.Dir = dir
	if env != nil {
		cmd.Env = environSlice(env)
	} else {
		cmd.Env = os.Environ()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if sink != nil {
		cmd.Stdout = io.MultiWriter(&stdout, sink)
		cmd.Stderr = io.MultiWriter(&stderr, sink)
	}

	// Isolate process group for context-based cleanup
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Command: command, Err: err}
	}

	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.Context.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	res := &RunResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if waitErr != nil {
		if e.Context.Err() != nil {
			// Give the process group a moment to die before returning.
			time.Sleep(100 * time.Millisecond)
			return nil, &LaunchError{Command: command, Err: fmt.Errorf("command aborted: %v", e.Context.Err())}
		}
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			return res, nil
		}
		return nil, &LaunchError{Command: command, Err: waitErr}
	}
	return res, nil
}
