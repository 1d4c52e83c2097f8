package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	xerrors "xssh/internal/errors"
	"xssh/internal/logging"
)

const defaultDialTimeout = 30 * time.Second

// NativeRunner implements Runner on golang.org/x/crypto/ssh without an
// external client binary
type NativeRunner struct {
	logger *logging.Logger
	home   string
}

// NewNativeRunner creates a native runner. Keys and known_hosts are read from
// the invoking user's ~/.ssh.
func NewNativeRunner(logger *logging.Logger) *NativeRunner {
	if logger == nil {
		logger = logging.Discard()
	}
	home, _ := os.UserHomeDir()
	return &NativeRunner{logger: logger, home: home}
}

// nativeOptions are the ssh flags this backend understands
type nativeOptions struct {
	port       int
	user       string
	identities []string
}

// parseOptions accepts -p PORT, -i FILE and -l USER, in separate or joined
// form. Anything else is rejected.
func parseOptions(args []string) (nativeOptions, error) {
	opts := nativeOptions{port: 22}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) < 2 || arg[0] != '-' || !strings.ContainsRune("pil", rune(arg[1])) {
			return opts, xerrors.Usagef("option %q is not supported by the native backend", arg)
		}

		value := arg[2:]
		if value == "" {
			if i+1 >= len(args) {
				return opts, xerrors.Usagef("option %s requires a value", arg)
			}
			i++
			value = args[i]
		}

		switch arg[1] {
		case 'p':
			port, err := strconv.Atoi(value)
			if err != nil || port < 1 || port > 65535 {
				return opts, xerrors.Usagef("invalid port %q", value)
			}
			opts.port = port
		case 'i':
			opts.identities = append(opts.identities, value)
		case 'l':
			opts.user = value
		}
	}
	return opts, nil
}

// Run executes req.Command over a fresh SSH connection
func (r *NativeRunner) Run(ctx context.Context, req Request, stdout, stderr io.Writer) error {
	opts, err := parseOptions(req.Options)
	if err != nil {
		return err
	}

	client, err := r.connect(ctx, req, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return &ConnectionError{Host: req.Host, Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr
	if req.TTY {
		if err := session.RequestPty("xterm", 24, 80, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
			return &ConnectionError{Host: req.Host, Err: fmt.Errorf("failed to request PTY: %w", err)}
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(req.Command)
	}()

	select {
	case err := <-done:
		return r.classify(req.Host, err)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return ctx.Err()
	}
}

// Interactive opens a login shell with the local terminal in raw mode
func (r *NativeRunner) Interactive(ctx context.Context, req Request) error {
	opts, err := parseOptions(req.Options)
	if err != nil {
		return err
	}

	client, err := r.connect(ctx, req, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return &ConnectionError{Host: req.Host, Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	fd := int(os.Stdin.Fd())
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width, height = 80, 24
	}

	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set raw terminal: %w", err)
		}
		defer term.Restore(fd, state)
	}

	termType := os.Getenv("TERM")
	if termType == "" {
		termType = "xterm-256color"
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termType, height, width, modes); err != nil {
		return &ConnectionError{Host: req.Host, Err: fmt.Errorf("failed to request PTY: %w", err)}
	}

	session.Stdin = os.Stdin
	session.Stdout = os.Stdout
	session.Stderr = os.Stderr
	if err := session.Shell(); err != nil {
		return &ConnectionError{Host: req.Host, Err: fmt.Errorf("failed to start shell: %w", err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return r.classify(req.Host, err)
	case <-ctx.Done():
		_ = session.Close()
		return ctx.Err()
	}
}

func (r *NativeRunner) classify(host string, err error) error {
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return &ExitError{Host: host, Code: exitErr.ExitStatus()}
	}
	if _, ok := err.(*ssh.ExitMissingError); ok {
		return &ConnectionError{Host: host, Err: err}
	}
	return &ConnectionError{Host: host, Err: fmt.Errorf("SSH execution error: %w", err)}
}

// connect dials and authenticates to the host in req
func (r *NativeRunner) connect(ctx context.Context, req Request, opts nativeOptions) (*ssh.Client, error) {
	login := req.User
	if login == "" {
		login = opts.user
	}
	if login == "" {
		if u, err := user.Current(); err == nil {
			login = u.Username
		}
	}

	timeout := req.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	auth, agentConn, err := r.authMethods(opts.identities)
	if err != nil {
		return nil, &ConnectionError{Host: req.Host, Err: err}
	}
	// The agent is only consulted during the handshake
	if agentConn != nil {
		defer agentConn.Close()
	}

	config := &ssh.ClientConfig{
		User:            login,
		Auth:            auth,
		HostKeyCallback: r.hostKeyCallback(),
		Timeout:         timeout,
	}

	address := net.JoinHostPort(req.Host, strconv.Itoa(opts.port))
	dialer := &net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectionError{Host: req.Host, Err: fmt.Errorf("failed to connect to %s: %w", address, err)}
	}

	// The handshake shares the connect deadline
	_ = netConn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		return nil, &ConnectionError{Host: req.Host, Err: fmt.Errorf("SSH handshake failed for %s: %w", address, err)}
	}
	_ = netConn.SetDeadline(time.Time{})

	r.logger.Debug("ssh connection established", "host", req.Host, "user", login, "port", opts.port)
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// authMethods returns agent authentication followed by explicit or default
// identity files. The returned agent connection, if any, must be closed by
// the caller once authentication is done.
func (r *NativeRunner) authMethods(identities []string) ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod
	var agentConn net.Conn

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	closeAgent := func() {
		if agentConn != nil {
			agentConn.Close()
		}
	}

	var signers []ssh.Signer
	for _, path := range identities {
		signer, err := loadKey(r.expandHome(path))
		if err != nil {
			closeAgent()
			return nil, nil, fmt.Errorf("failed to load identity file %s: %w", path, err)
		}
		signers = append(signers, signer)
	}

	if len(identities) == 0 && r.home != "" {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			// Unreadable or passphrase protected default keys are skipped
			if signer, err := loadKey(filepath.Join(r.home, ".ssh", name)); err == nil {
				signers = append(signers, signer)
			}
		}
	}

	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no authentication methods available")
	}
	if agentConn == nil {
		return methods, nil, nil
	}
	return methods, agentConn, nil
}

func loadKey(path string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

func (r *NativeRunner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") && r.home != "" {
		return filepath.Join(r.home, path[2:])
	}
	return path
}

// hostKeyCallback verifies against the user and system known_hosts files,
// falling back to accepting any key with a logged warning when neither
// exists
func (r *NativeRunner) hostKeyCallback() ssh.HostKeyCallback {
	var files []string
	if r.home != "" {
		files = append(files, filepath.Join(r.home, ".ssh", "known_hosts"))
	}
	files = append(files, "/etc/ssh/ssh_known_hosts")

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}

	if len(existing) > 0 {
		if callback, err := knownhosts.New(existing...); err == nil {
			return callback
		}
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		r.logger.LogConnectionWarning(hostname, "host key verification disabled, no known_hosts file found")
		return nil
	}
}
