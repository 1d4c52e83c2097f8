package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"xssh/internal/config"
	"xssh/internal/dispatch"
	xerrors "xssh/internal/errors"
	"xssh/internal/logging"
	"xssh/internal/output"
	"xssh/internal/progress"
	"xssh/internal/remote"
	"xssh/internal/sshconfig"
	"xssh/internal/target"
	"xssh/internal/template"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// restrictedCommands may never be sent to several hosts at once
var restrictedCommands = regexp.MustCompile(`(?i)\b(shutdown|poweroff|reboot)\b`)

// options holds the parsed command line. It is filled once by cobra and only
// read afterwards.
type options struct {
	verbose      bool
	debug        bool
	x11          bool
	port         string
	forwards     []string
	dynamic      string
	sshOptions   []string
	identities   []string
	mass         bool
	sudo         bool
	logFile      string
	list         bool
	listVerbose  bool
	sshConfig    string
	output       string
	backend      string
	maxParallel  int
	connTimeout  time.Duration
	progress     bool
	templateName string
	expand       bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr, config.NewManager())
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "xssh: %v\n", err)
		if xerrors.Is(err, xerrors.ErrUsage) {
			fmt.Fprintf(stderr, "Run 'xssh --help' for usage.\n")
		}
	}
	return xerrors.ExitCode(err)
}

func newRootCmd(stdout, stderr io.Writer, manager config.Manager) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "xssh [flags] pattern [command...]",
		Short: "Connect to or run commands on hosts from your SSH config",
		Long: `xssh resolves a host pattern against the aliases in your OpenSSH client
configuration (following Include directives) and connects to the match.

The pattern is a case-insensitive regular expression, optionally prefixed
with user@. When nothing matches, the pattern is used as a hostname.
A pattern matching several hosts requires --mass, which runs the command on
all of them concurrently and prints their output in host order.

The command is sent as typed. With --expand, {{.Host}} and {{.User}}
placeholders are rendered for each host first.

The subcommand names (version, templates, completion, help) take precedence
over aliases of the same name. Put -- before the pattern to reach such a
host, as in "xssh -- version uptime".

Examples:
  # Interactive session on the host aliased db1
  xssh db1

  # List every alias with its hostname
  xssh -V

  # Run a command on every web server at once
  xssh --mass 'web[0-9]+' uptime

  # Same, as root and with structured output
  xssh --mass --sudo --output json web systemctl is-active nginx

Environment:
  ` + strings.Join(config.GetEnvVarNames(), "\n  "),
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		ValidArgsFunction: completeAliases(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, manager)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), cfg, opts, args, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return xerrors.Usagef("%v", err)
	})

	flags := cmd.Flags()
	// Everything after the pattern belongs to the remote command
	flags.SetInterspersed(false)

	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print a header before each host's output")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	flags.BoolVarP(&opts.x11, "x11", "X", false, "Enable X11 forwarding")
	flags.StringVarP(&opts.port, "port", "p", "", "Remote port")
	flags.StringArrayVarP(&opts.forwards, "local-forward", "L", nil, "Local port forwarding spec (repeatable)")
	flags.StringVarP(&opts.dynamic, "dynamic-forward", "D", "", "Dynamic (SOCKS) forwarding spec")
	flags.StringArrayVarP(&opts.sshOptions, "option", "o", nil, "ssh option passed as -o OPTION (repeatable)")
	flags.StringArrayVarP(&opts.identities, "identity", "i", nil, "Identity file (repeatable)")
	flags.BoolVar(&opts.mass, "mass", false, "Run the command on every matching host concurrently")
	flags.BoolVar(&opts.sudo, "sudo", false, "Run the command through sudo")
	flags.StringVar(&opts.logFile, "log", "", "Also append log records to FILE")
	flags.BoolVarP(&opts.list, "list", "l", false, "List known aliases and exit")
	flags.BoolVarP(&opts.listVerbose, "list-verbose", "V", false, "List aliases with their hostnames and exit")
	flags.StringVarP(&opts.sshConfig, "config", "F", "", "Root SSH client config (default ~/.ssh/config)")
	flags.StringVar(&opts.output, "output", "", "Mass mode output format (text, json, yaml)")
	flags.StringVar(&opts.backend, "backend", "", "Remote backend (exec, native)")
	flags.IntVar(&opts.maxParallel, "max-parallel", 0, "Maximum concurrent hosts in mass mode (0 for no limit)")
	flags.DurationVar(&opts.connTimeout, "connect-timeout", 0, "Connection timeout per host in mass mode (default 5s)")
	flags.BoolVar(&opts.progress, "progress", false, "Show a progress line on stderr in mass mode")
	flags.StringVar(&opts.templateName, "template", "", "Run a predefined command template instead of a command")
	flags.BoolVar(&opts.expand, "expand", false, "Render {{.Host}} and {{.User}} placeholders in the command for each host")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xssh %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", buildTime)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "templates",
		Short: "List predefined command templates",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range template.NewTemplateEngine().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	})

	return cmd
}

// loadConfig reads defaults, config files and XSSH_* variables, then applies
// flags that were set explicitly
func loadConfig(cmd *cobra.Command, opts *options, manager config.Manager) (config.Config, error) {
	cfg, err := manager.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", xerrors.ErrUsage, err)
	}

	flags := cmd.Flags()
	if flags.Changed("config") {
		cfg.SSHConfig = opts.sshConfig
	}
	if flags.Changed("output") {
		cfg.Output = opts.output
	}
	if flags.Changed("backend") {
		cfg.Backend = opts.backend
	}
	if flags.Changed("max-parallel") {
		cfg.MaxParallel = opts.maxParallel
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = opts.connTimeout
	}
	if flags.Changed("progress") {
		cfg.Progress = opts.progress
	}
	if flags.Changed("log") {
		cfg.LogFile = opts.logFile
	}
	if opts.debug {
		cfg.LogLevel = string(logging.LevelDebug)
	}

	if err := manager.Validate(cfg); err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", xerrors.ErrUsage, err)
	}
	return *cfg, nil
}

func loadDirectory(path string, logger *logging.Logger) *sshconfig.Directory {
	files := sshconfig.NewResolver().Resolve(path)
	dir := sshconfig.Parse(files)
	logger.LogConfigFiles(path, files, dir.Len())
	return dir
}

func execute(ctx context.Context, cfg config.Config, opts *options, args []string, stdout, stderr io.Writer) error {
	logger, err := logging.NewLogger(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Output:  stderr,
		LogFile: cfg.LogFile,
		RunID:   uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", xerrors.ErrUsage, err)
	}
	defer logger.Close()

	dir := loadDirectory(cfg.SSHConfig, logger)

	if opts.list || opts.listVerbose {
		return list(stdout, dir, opts.listVerbose)
	}

	if len(args) == 0 {
		return xerrors.Usagef("no host pattern given")
	}
	pattern, words := args[0], args[1:]
	if _, host := target.SplitUser(pattern); strings.TrimSpace(host) == "" {
		return xerrors.Usagef("empty host pattern %q", pattern)
	}

	templates := template.NewTemplateEngine()
	command, err := buildCommand(words, opts, templates)
	if err != nil {
		return err
	}

	if opts.mass {
		if command == "" && opts.templateName == "" {
			return dispatch.ErrInteractiveMass
		}
		if restrictedCommands.MatchString(command) {
			return xerrors.Usagef("refusing to run %q on multiple hosts", command)
		}
	}

	set := target.NewMatcher(dir).Resolve(pattern)
	if set.Fallback {
		logger.LogFallback(set.Pattern)
	}
	if set.Multiple() && !opts.mass {
		fmt.Fprintf(stderr, "Pattern %q matches %d hosts, use --mass to run on all of them:\n", set.Pattern, len(set.Hosts))
		for _, host := range set.Hosts {
			fmt.Fprintf(stderr, "  %s\n", host)
		}
		return fmt.Errorf("%w: %s", xerrors.ErrMultipleHosts, set.Pattern)
	}

	runner, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancel all in-flight work on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.LogInterrupt(sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	job := dispatch.Job{
		User:           set.User,
		Options:        sshArgs(opts),
		Command:        command,
		Expand:         opts.expand,
		Template:       opts.templateName,
		Sudo:           opts.sudo,
		TTY:            opts.sudo,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxParallel:    cfg.MaxParallel,
		Verbose:        opts.verbose,
	}

	dispatchOpts := []dispatch.Option{dispatch.WithOutput(stdout, stderr), dispatch.WithTemplates(templates)}
	if opts.mass && cfg.Progress {
		dispatchOpts = append(dispatchOpts, dispatch.WithProgress(progress.NewTracker(len(set.Hosts), stderr)))
	}
	d := dispatch.New(runner, logger, dispatchOpts...)

	if !opts.mass {
		_, err := d.RunSerial(ctx, set.Hosts, job)
		return err
	}

	mode, err := output.ParseMode(cfg.Output)
	if err != nil {
		return xerrors.Usagef("%v", err)
	}

	summary, runErr := d.RunParallel(ctx, set.Hosts, job)
	if summary == nil {
		return runErr
	}
	if err := output.NewFormatter(mode, stdout, stderr, opts.verbose).Emit(summary); err != nil {
		logger.Error("failed to write output", "error", err)
	}
	return runErr
}

// buildCommand turns the words after the pattern into the remote command
// line. A --template run has no typed command; the named template is checked
// here and rendered per host by the dispatcher.
func buildCommand(words []string, opts *options, templates *template.TemplateEngine) (string, error) {
	if opts.templateName != "" {
		if len(words) > 0 {
			return "", xerrors.Usagef("--template cannot be combined with a command")
		}
		if !templates.Has(opts.templateName) {
			return "", xerrors.Usagef("unknown template %q", opts.templateName)
		}
		return "", nil
	}

	command := remote.Command(words, opts.sudo)
	if opts.expand {
		if err := template.ValidateTemplate(command); err != nil {
			return "", xerrors.Usagef("invalid placeholder in command: %v", err)
		}
	}
	return command, nil
}

// sshArgs converts the pass-through flags into ssh client arguments
func sshArgs(opts *options) []string {
	var out []string
	if opts.x11 {
		out = append(out, "-X")
	}
	if opts.port != "" {
		out = append(out, "-p", opts.port)
	}
	for _, spec := range opts.forwards {
		out = append(out, "-L", spec)
	}
	if opts.dynamic != "" {
		out = append(out, "-D", opts.dynamic)
	}
	for _, id := range opts.identities {
		out = append(out, "-i", id)
	}
	for _, o := range opts.sshOptions {
		out = append(out, "-o", o)
	}
	return out
}

func newRunner(cfg config.Config, logger *logging.Logger) (remote.Runner, error) {
	switch cfg.Backend {
	case "native":
		return remote.NewNativeRunner(logger), nil
	default:
		return remote.NewExecRunner(cfg.SSHBinary)
	}
}

func list(w io.Writer, dir *sshconfig.Directory, verbose bool) error {
	for _, e := range dir.Entries() {
		var err error
		if verbose {
			_, err = fmt.Fprintf(w, "%s\t%s\n", e.Alias, e.Hostname)
		} else {
			_, err = fmt.Fprintln(w, e.Alias)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// completeAliases offers directory aliases for the host pattern
func completeAliases(opts *options) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveDefault
		}

		path := "~/.ssh/config"
		if opts.sshConfig != "" {
			path = opts.sshConfig
		}
		user, prefix := target.SplitUser(toComplete)

		var out []string
		for _, alias := range sshconfig.Parse(sshconfig.NewResolver().Resolve(path)).Aliases() {
			if !strings.HasPrefix(strings.ToLower(alias), strings.ToLower(prefix)) {
				continue
			}
			if user != "" {
				alias = user + "@" + alias
			}
			out = append(out, alias)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	}
}
