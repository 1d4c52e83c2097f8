package dispatch

import (
	"fmt"
	"time"

	xerrors "xssh/internal/errors"
	"xssh/internal/remote"
)

// Status is the per-host outcome
type Status string

const (
	StatusSuccess         Status = "success"
	StatusFailure         Status = "failure"
	StatusConnectionError Status = "connection-error"
)

// Result represents the outcome of one host in a run
type Result struct {
	Host      string        // Host identifier the command ran on
	Stdout    []byte        // Captured standard output (mass mode only)
	Stderr    []byte        // Captured standard error (mass mode only)
	Status    Status        // Success, failure or connection error
	ExitCode  int           // Remote exit status, 255 for connection errors
	ErrorType string        // Failure classification, empty on success
	Err       error         // Failure detail
	Duration  time.Duration // Time spent on this host
}

// Failed reports whether the host did not succeed
func (r Result) Failed() bool {
	return r.Status != StatusSuccess
}

// Outcome is the aggregate result of a run
type Outcome int

const (
	Success Outcome = iota
	PartialFailure
	TotalFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case PartialFailure:
		return "partial-failure"
	default:
		return "total-failure"
	}
}

// Summary aggregates every host of a run in sorted host order
type Summary struct {
	Mass     bool
	Results  []Result
	Failed   int
	Duration time.Duration
	Errors   *xerrors.ErrorCollector
}

// NewSummary aggregates results, counting and classifying the failed ones
func NewSummary(mass bool, results []Result, duration time.Duration) *Summary {
	s := &Summary{
		Mass:     mass,
		Results:  results,
		Duration: duration,
		Errors:   xerrors.NewErrorCollector(),
	}
	for _, r := range results {
		if r.Failed() {
			s.Failed++
			s.Errors.Add(r.Err)
		}
	}
	return s
}

// Outcome classifies the run
func (s *Summary) Outcome() Outcome {
	switch {
	case s.Failed == 0:
		return Success
	case s.Failed < len(s.Results):
		return PartialFailure
	default:
		return TotalFailure
	}
}

// Err maps the outcome to an error carrying the exit code. Partial failure
// only exists in mass mode; a serial run with any failed host is a failure.
func (s *Summary) Err() error {
	switch s.Outcome() {
	case Success:
		return nil
	case PartialFailure:
		if s.Mass {
			return fmt.Errorf("%d/%d hosts failed: %w", s.Failed, len(s.Results), xerrors.ErrPartialFailure)
		}
	}
	return fmt.Errorf("%d/%d hosts failed: %w", s.Failed, len(s.Results), xerrors.ErrFailure)
}

// classify turns a runner error into a Result. ctx cancellation is handled
// by the caller.
func classify(host string, err error, stderr []byte) Result {
	r := Result{Host: host, Stderr: stderr}
	if err == nil {
		r.Status = StatusSuccess
		return r
	}

	var exitErr *remote.ExitError
	var connErr *remote.ConnectionError
	var classified *xerrors.ClassifiedError
	switch {
	case xerrors.As(err, &exitErr):
		r.Status = StatusFailure
		r.ExitCode = exitErr.Code
		classified = &xerrors.ClassifiedError{Type: xerrors.ExecutionErrorType, Original: err}
	case xerrors.As(err, &connErr):
		r.Status = StatusConnectionError
		r.ExitCode = 255
		// ssh prints the reason on stderr, the exit status alone says nothing
		classified = xerrors.ClassifyError(fmt.Errorf("%w: %s", err, lastLine(stderr)))
		if classified.Type == xerrors.UnknownErrorType || classified.Type == xerrors.ExecutionErrorType {
			classified.Type = xerrors.ConnectionErrorType
		}
		classified.Original = err
	default:
		r.Status = StatusFailure
		r.ExitCode = 1
		classified = xerrors.ClassifyError(err)
	}
	r.Err = classified
	r.ErrorType = classified.Type.String()
	return r
}

func lastLine(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == '\n' || b[end-1] == '\r') {
		end--
	}
	start := end
	for start > 0 && b[start-1] != '\n' {
		start--
	}
	return string(b[start:end])
}
