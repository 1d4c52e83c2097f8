package remote

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "xssh/internal/errors"
	"xssh/internal/logging"
)

func TestCommand(t *testing.T) {
	assert.Equal(t, "", Command(nil, false))
	assert.Equal(t, "uptime", Command([]string{"uptime"}, false))
	assert.Equal(t, "sudo cat /root/file", Command([]string{"cat /root/file"}, true))

	words := []string{"echo", "a b", "it's", "$HOME"}
	cmd := Command(words, false)
	outer, err := shellquote.Split(cmd)
	require.NoError(t, err)
	require.Len(t, outer, 3)
	assert.Equal(t, []string{"sh", "-c"}, outer[:2])

	inner, err := shellquote.Split(outer[2])
	require.NoError(t, err)
	assert.Equal(t, words, inner)

	sudo, err := shellquote.Split(Command([]string{"ls", "-l"}, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"sudo", "sh", "-c", "ls -l"}, sudo)
}

func TestArgs(t *testing.T) {
	args := Args(Request{
		Host:           "10.0.0.1",
		User:           "root",
		Options:        []string{"-p", "2222", "-X"},
		Command:        "uptime",
		ConnectTimeout: 1500 * time.Millisecond,
		Batch:          true,
	})
	assert.Equal(t, []string{
		"-o", "ConnectTimeout=2",
		"-o", "BatchMode=yes",
		"-l", "root",
		"-p", "2222", "-X",
		"10.0.0.1", "uptime",
	}, args)

	assert.Equal(t, []string{"-tt", "web"}, Args(Request{Host: "web", TTY: true}))
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-p", "2200", "-i~/.ssh/key", "-l", "ops"})
	require.NoError(t, err)
	assert.Equal(t, 2200, opts.port)
	assert.Equal(t, []string{"~/.ssh/key"}, opts.identities)
	assert.Equal(t, "ops", opts.user)

	opts, err = parseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, 22, opts.port)

	for _, bad := range [][]string{{"-X"}, {"-p"}, {"-p", "99999"}, {"-L", "8080:localhost:80"}} {
		_, err := parseOptions(bad)
		assert.ErrorIs(t, err, xerrors.ErrUsage, bad)
	}
}

func TestNewExecRunnerMissing(t *testing.T) {
	_, err := NewExecRunner(filepath.Join(t.TempDir(), "no-ssh-here"))
	assert.ErrorIs(t, err, xerrors.ErrSSHNotFound)
}

func fakeSSH(t *testing.T, script string) *ExecRunner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ssh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	r, err := NewExecRunner(path)
	require.NoError(t, err)
	return r
}

func TestExecRunnerRun(t *testing.T) {
	r := fakeSSH(t, `echo "$@"; echo oops >&2; exit 0`)

	var stdout, stderr bytes.Buffer
	err := r.Run(context.Background(), Request{Host: "web", Command: "uptime"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "web uptime\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())
}

func TestExecRunnerExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := fakeSSH(t, "exit 3").Run(context.Background(), Request{Host: "web", Command: "false"}, &stdout, &stderr)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)

	err = fakeSSH(t, "exit 255").Run(context.Background(), Request{Host: "web", Command: "true"}, &stdout, &stderr)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "web", connErr.Host)
}

func TestExecRunnerCancel(t *testing.T) {
	r := fakeSSH(t, "exec sleep 5")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx, Request{Host: "web", Command: "true"}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecRunnerForwardsStdin(t *testing.T) {
	r := fakeSSH(t, "cat")

	r.stdin = strings.NewReader("payload\n")
	var stdout bytes.Buffer
	err := r.Run(context.Background(), Request{Host: "web", Command: "cat > f"}, &stdout, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "payload\n", stdout.String())

	// batch runs never read the local stdin
	r.stdin = strings.NewReader("payload\n")
	stdout.Reset()
	err = r.Run(context.Background(), Request{Host: "web", Command: "cat > f", Batch: true}, &stdout, io.Discard)
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
}

func TestAuthMethodsReturnsAgentConn(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket agent")
	}
	sock := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()
	t.Setenv("SSH_AUTH_SOCK", sock)

	r := &NativeRunner{logger: logging.Discard()}
	methods, agentConn, err := r.authMethods(nil)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
	require.NotNil(t, agentConn)

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, agentConn.Close())
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = server.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestAuthMethodsWithoutAgent(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	r := &NativeRunner{logger: logging.Discard()}

	_, agentConn, err := r.authMethods(nil)
	assert.Error(t, err)
	assert.Nil(t, agentConn)

	_, _, err = r.authMethods([]string{filepath.Join(t.TempDir(), "missing")})
	assert.ErrorContains(t, err, "failed to load identity file")
}
