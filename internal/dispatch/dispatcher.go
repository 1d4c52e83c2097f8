// Package dispatch runs one remote command across the resolved hosts,
// serially or all at once.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/sync/errgroup"

	xerrors "xssh/internal/errors"
	"xssh/internal/logging"
	"xssh/internal/remote"
	"xssh/internal/template"
)

// ErrInteractiveMass rejects an interactive session in mass mode
var ErrInteractiveMass = fmt.Errorf("%w: mass mode requires a command", xerrors.ErrUsage)

// Job is the immutable description of what to run on every host
type Job struct {
	User           string        // Login name, empty for the ssh default
	Options        []string      // ssh options forwarded verbatim
	Command        string        // Remote command, sent verbatim unless Expand is set
	Expand         bool          // Render {{.Host}} style placeholders in Command per host
	Template       string        // Predefined template rendered per host instead of Command
	Sudo           bool          // Run a rendered Template through sudo
	TTY            bool          // Force a pseudo terminal (sudo)
	ConnectTimeout time.Duration // Per-host connection timeout in mass mode
	MaxParallel    int           // Mass mode concurrency cap, 0 for one unit per host
	Verbose        bool          // Print a header before each host in serial mode
}

// Progress receives per-host completion events in mass mode
type Progress interface {
	Update(success bool)
	Finish()
}

// Dispatcher executes jobs through a remote.Runner
type Dispatcher struct {
	runner    remote.Runner
	logger    *logging.Logger
	templates *template.TemplateEngine
	stdout    io.Writer
	stderr    io.Writer
	progress  Progress
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithOutput sets the streams serial runs write to
func WithOutput(stdout, stderr io.Writer) Option {
	return func(d *Dispatcher) {
		d.stdout = stdout
		d.stderr = stderr
	}
}

// WithProgress reports mass mode completions to p
func WithProgress(p Progress) Option {
	return func(d *Dispatcher) {
		d.progress = p
	}
}

// New creates a dispatcher
func New(runner remote.Runner, logger *logging.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dispatcher{
		runner:    runner,
		logger:    logger,
		templates: template.NewTemplateEngine(),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithTemplates replaces the template engine used for Template and Expand
func WithTemplates(te *template.TemplateEngine) Option {
	return func(d *Dispatcher) {
		d.templates = te
	}
}

func (d *Dispatcher) request(host string, job Job) (remote.Request, error) {
	command, err := d.command(host, job)
	if err != nil {
		return remote.Request{}, err
	}
	return remote.Request{
		Host:    host,
		User:    job.User,
		Options: job.Options,
		Command: command,
		TTY:     job.TTY,
	}, nil
}

// command renders the remote command line for one host
func (d *Dispatcher) command(host string, job Job) (string, error) {
	ctx := template.Context{Host: host, User: job.User}
	switch {
	case job.Template != "":
		text, err := d.templates.ExecuteTemplate(job.Template, ctx)
		if err != nil {
			return "", err
		}
		if job.Sudo {
			return "sudo sh -c " + shellquote.Join(text), nil
		}
		return text, nil
	case job.Expand:
		return d.templates.Expand(job.Command, ctx)
	default:
		return job.Command, nil
	}
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", xerrors.ErrInterrupted, context.Cause(ctx))
}

// RunSerial visits hosts in order, streaming output directly. An empty
// command opens an interactive session on each host. A failing host is
// logged and the run continues.
func (d *Dispatcher) RunSerial(ctx context.Context, hosts []string, job Job) (*Summary, error) {
	d.logger.LogDispatchStart("serial", hosts, 1)
	start := time.Now()

	results := make([]Result, 0, len(hosts))
	for _, host := range hosts {
		if ctx.Err() != nil {
			return nil, interrupted(ctx)
		}

		if job.Verbose {
			fmt.Fprintf(d.stdout, "Executing on %s:\n", host)
		}

		hostStart := time.Now()
		req, err := d.request(host, job)
		if err == nil {
			if req.Command == "" {
				d.logger.Debug("opening interactive session", "host", host)
				err = d.runner.Interactive(ctx, req)
			} else {
				err = d.runner.Run(ctx, req, d.stdout, d.stderr)
			}
		}

		if ctx.Err() != nil {
			return nil, interrupted(ctx)
		}

		result := classify(host, err, nil)
		result.Duration = time.Since(hostStart)
		d.logResult(result)
		results = append(results, result)
	}

	summary := NewSummary(false, results, time.Since(start))
	d.logger.LogDispatchComplete(len(results), summary.Failed, summary.Errors.Summary(), summary.Duration)
	return summary, summary.Err()
}

// RunParallel runs job.Command on every host at once. Each host writes to
// its own capture files in a private scratch directory which is removed
// before returning. Results come back sorted by host. Cancelling ctx
// abandons the run and returns errors.ErrInterrupted without results.
func (d *Dispatcher) RunParallel(ctx context.Context, hosts []string, job Job) (*Summary, error) {
	if job.Command == "" && job.Template == "" {
		return nil, ErrInteractiveMass
	}

	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)

	d.logger.LogDispatchStart("parallel", sorted, job.MaxParallel)
	start := time.Now()

	sc, err := newScratch()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sc.remove(); err != nil {
			d.logger.Warn("failed to remove scratch directory", "dir", sc.dir, "error", err)
		}
	}()

	results := make([]Result, len(sorted))
	var g errgroup.Group
	if job.MaxParallel > 0 {
		g.SetLimit(job.MaxParallel)
	}
	for i, host := range sorted {
		g.Go(func() error {
			results[i] = d.runUnit(ctx, sc, i, host, job)
			if d.progress != nil && ctx.Err() == nil {
				d.progress.Update(!results[i].Failed())
			}
			return nil
		})
	}
	_ = g.Wait()

	if d.progress != nil {
		d.progress.Finish()
	}
	if ctx.Err() != nil {
		return nil, interrupted(ctx)
	}

	for i := range results {
		d.logResult(results[i])
	}

	summary := NewSummary(true, results, time.Since(start))
	d.logger.LogDispatchComplete(len(results), summary.Failed, summary.Errors.Summary(), summary.Duration)
	return summary, summary.Err()
}

// runUnit executes on one host and reads its captures back. It owns the
// two sink files for index exclusively.
func (d *Dispatcher) runUnit(ctx context.Context, sc *scratch, index int, host string, job Job) Result {
	start := time.Now()
	outPath, errPath := sc.sinks(index, host)

	err := func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := d.request(host, job)
		if err != nil {
			return err
		}
		req.ConnectTimeout = job.ConnectTimeout
		req.Batch = true

		stdout, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer stdout.Close()

		stderr, err := os.Create(errPath)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer stderr.Close()

		return d.runner.Run(ctx, req, stdout, stderr)
	}()

	// Missing captures just mean the unit failed before writing anything
	outBytes, _ := os.ReadFile(outPath)
	errBytes, _ := os.ReadFile(errPath)

	result := classify(host, err, errBytes)
	result.Stdout = outBytes
	result.Duration = time.Since(start)
	return result
}

func (d *Dispatcher) logResult(r Result) {
	if r.Failed() {
		d.logger.LogHostFailure(r.Host, string(r.Status), r.ExitCode, r.Err)
		return
	}
	d.logger.LogHostSuccess(r.Host, r.Duration)
}
