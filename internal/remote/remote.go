// Package remote runs commands and interactive sessions on a single host.
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// Request describes one remote invocation
type Request struct {
	Host           string        // Host identifier handed to ssh
	User           string        // Login name, empty for the ssh default
	Options        []string      // Extra ssh arguments forwarded verbatim
	Command        string        // Remote command, empty for an interactive session
	TTY            bool          // Force a pseudo terminal
	ConnectTimeout time.Duration // Zero leaves the ssh default
	Batch          bool          // Never prompt for passwords or host keys
}

// Runner executes requests against remote hosts
type Runner interface {
	// Run executes req.Command, copying remote output into stdout and stderr.
	// A remote non-zero exit is reported as *ExitError.
	Run(ctx context.Context, req Request, stdout, stderr io.Writer) error

	// Interactive attaches the local terminal to a remote session
	Interactive(ctx context.Context, req Request) error
}

// ExitError reports a command that ran remotely and exited non-zero
type ExitError struct {
	Host string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command on %s exited with status %d", e.Host, e.Code)
}

// ConnectionError reports a failure to reach or authenticate to a host
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Command builds the remote command string from the words typed after the
// pattern. A single word is sent as-is so the remote shell interprets it;
// several words are quoted and run through "sh -c". With sudo the command is
// prefixed with sudo.
func Command(words []string, sudo bool) string {
	if len(words) == 0 {
		return ""
	}

	var cmd string
	if len(words) == 1 {
		cmd = words[0]
	} else {
		cmd = "sh -c " + shellquote.Join(strings.Join(quoteEach(words), " "))
	}

	if sudo {
		return "sudo " + cmd
	}
	return cmd
}

func quoteEach(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = shellquote.Join(w)
	}
	return out
}
