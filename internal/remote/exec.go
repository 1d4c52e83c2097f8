package remote

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"time"

	xerrors "xssh/internal/errors"
)

const (
	// sshConnectionFailure is the status the OpenSSH client uses for its own errors
	sshConnectionFailure = 255

	// waitDelay bounds how long a cancelled ssh may keep its output pipes open
	waitDelay = 2 * time.Second
)

// ExecRunner shells out to the OpenSSH client binary
type ExecRunner struct {
	binary string
	stdin  io.Reader // Forwarded to non-batch runs, os.Stdin by default
}

// NewExecRunner locates binary on PATH. A missing client is reported as
// errors.ErrSSHNotFound.
func NewExecRunner(binary string) (*ExecRunner, error) {
	if binary == "" {
		binary = "ssh"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", xerrors.ErrSSHNotFound, binary, err)
	}
	return &ExecRunner{binary: path, stdin: os.Stdin}, nil
}

// Args builds the ssh argument vector for req
func Args(req Request) []string {
	var args []string
	if req.ConnectTimeout > 0 {
		secs := int(math.Ceil(req.ConnectTimeout.Seconds()))
		args = append(args, "-o", fmt.Sprintf("ConnectTimeout=%d", secs))
	}
	if req.Batch {
		args = append(args, "-o", "BatchMode=yes")
	}
	if req.TTY {
		// Forced even when the local stdin is not a terminal
		args = append(args, "-tt")
	}
	if req.User != "" {
		args = append(args, "-l", req.User)
	}
	args = append(args, req.Options...)
	args = append(args, req.Host)
	if req.Command != "" {
		args = append(args, req.Command)
	}
	return args
}

// Run executes the command through ssh
func (r *ExecRunner) Run(ctx context.Context, req Request, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, r.binary, Args(req)...)
	cmd.WaitDelay = waitDelay
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Parallel units must not compete for the terminal
	if !req.Batch {
		cmd.Stdin = r.stdin
	}
	return r.classify(ctx, req.Host, cmd.Run())
}

// Interactive hands the terminal to ssh
func (r *ExecRunner) Interactive(ctx context.Context, req Request) error {
	req.Command = ""
	cmd := exec.CommandContext(ctx, r.binary, Args(req)...)
	cmd.Stdin = r.stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return r.classify(ctx, req.Host, cmd.Run())
}

func (r *ExecRunner) classify(ctx context.Context, host string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if xerrors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == sshConnectionFailure {
			return &ConnectionError{Host: host, Err: fmt.Errorf("ssh could not connect (status %d)", code)}
		}
		return &ExitError{Host: host, Code: code}
	}
	return &ConnectionError{Host: host, Err: err}
}
