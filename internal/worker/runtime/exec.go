package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// ExecRuntime implements the Runtime interface using raw OS processes.
// This is optional and primarily used for development/testing: no image is
// pulled, the command runs directly on the host with the inbox as working
// directory.
type ExecRuntime struct{}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime() *ExecRuntime {
	return &ExecRuntime{}
}

// ExecHandle represents a running process.
type ExecHandle struct {
	cmd    *exec.Cmd
	output *os.File
}

// Start implements Runtime.Start using os/exec. The inbox and outbox
// paths are exposed through the INBOX and OUTBOX environment variables
// instead of bind mounts.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", opts.Command)
	cmd.Dir = opts.InboxDir
	cmd.Env = append(os.Environ(),
		"INBOX="+opts.InboxDir,
		"OUTBOX="+opts.OutboxDir,
	)
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	// The parent's copy of the write end must go so the reader sees EOF
	// when the process exits.
	w.Close()

	return &ExecHandle{cmd: cmd, output: r}, nil
}

func (h *ExecHandle) ID() string {
	return strconv.Itoa(h.cmd.Process.Pid)
}

func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	err := h.cmd.Wait()

	result := ExitResult{}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		result.Error = err
		return result, err
	}

	if state := h.cmd.ProcessState; state != nil {
		result.CPU = (state.UserTime() + state.SystemTime()).Nanoseconds()
	}
	return result, nil
}

func (h *ExecHandle) Stop(ctx context.Context) error {
	return h.cmd.Process.Kill()
}

func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.output, nil
}
