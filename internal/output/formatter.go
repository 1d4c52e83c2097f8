// Package output emits the aggregated results of a mass run.
package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"xssh/internal/dispatch"
)

// OutputMode defines the available output formatting modes
type OutputMode string

const (
	// TextMode prints stdout blocks in host order, then a stderr dump
	TextMode OutputMode = "text"

	// JSONMode emits one NDJSON object per host followed by a summary object
	JSONMode OutputMode = "json"

	// YAMLMode emits a single YAML document
	YAMLMode OutputMode = "yaml"
)

// ParseMode validates an output mode name
func ParseMode(s string) (OutputMode, error) {
	switch m := OutputMode(s); m {
	case TextMode, JSONMode, YAMLMode:
		return m, nil
	case "":
		return TextMode, nil
	default:
		return "", fmt.Errorf("unknown output mode: %s", s)
	}
}

// Formatter writes a finished run
type Formatter interface {
	Emit(summary *dispatch.Summary) error
}

// DefaultFormatter implements Formatter for every output mode. Host output
// goes to stdout, captured stderr and the failure count go to stderr.
type DefaultFormatter struct {
	mode    OutputMode
	stdout  io.Writer
	stderr  io.Writer
	verbose bool
}

// NewFormatter creates a formatter. nil writers default to the process
// streams.
func NewFormatter(mode OutputMode, stdout, stderr io.Writer, verbose bool) *DefaultFormatter {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &DefaultFormatter{
		mode:    mode,
		stdout:  stdout,
		stderr:  stderr,
		verbose: verbose,
	}
}

// Emit writes every result in the order the summary holds them
func (f *DefaultFormatter) Emit(summary *dispatch.Summary) error {
	var err error
	switch f.mode {
	case TextMode, "":
		err = f.emitText(summary)
	case JSONMode:
		err = f.emitJSON(summary)
	case YAMLMode:
		err = f.emitYAML(summary)
	default:
		return fmt.Errorf("unknown output mode: %s", f.mode)
	}
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(f.stderr, "%d/%d hosts failed\n", summary.Failed, len(summary.Results)); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func (f *DefaultFormatter) emitText(summary *dispatch.Summary) error {
	for _, r := range summary.Results {
		if f.verbose {
			if _, err := fmt.Fprintf(f.stdout, "--- %s ---\n", r.Host); err != nil {
				return fmt.Errorf("failed to write host header: %w", err)
			}
		}
		if err := writeBlock(f.stdout, r.Stdout); err != nil {
			return fmt.Errorf("failed to write stdout: %w", err)
		}
	}

	for _, r := range summary.Results {
		if len(r.Stderr) == 0 {
			continue
		}
		if err := writePrefixed(f.stderr, r.Host, r.Stderr); err != nil {
			return fmt.Errorf("failed to write stderr: %w", err)
		}
	}
	return nil
}

// writeBlock copies b and terminates it with a newline
func writeBlock(w io.Writer, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if b[len(b)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

// writePrefixed prints b with every line tagged "[host] "
func writePrefixed(w io.Writer, host string, b []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if _, err := fmt.Fprintf(w, "[%s] %s\n", host, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// HostRecord is the structured form of one host result
type HostRecord struct {
	Type       string `json:"type" yaml:"-"`
	Host       string `json:"host" yaml:"host"`
	Status     string `json:"status" yaml:"status"`
	ExitCode   int    `json:"exit_code" yaml:"exit_code"`
	Stdout     string `json:"stdout" yaml:"stdout"`
	Stderr     string `json:"stderr" yaml:"stderr"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
	ErrorType  string `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// SummaryRecord is the structured form of the run outcome
type SummaryRecord struct {
	Type       string `json:"type" yaml:"-"`
	Outcome    string `json:"outcome" yaml:"outcome"`
	Total      int    `json:"total" yaml:"total"`
	Failed     int    `json:"failed" yaml:"failed"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
	Errors     string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func hostRecord(r dispatch.Result) HostRecord {
	rec := HostRecord{
		Type:       "host",
		Host:       r.Host,
		Status:     string(r.Status),
		ExitCode:   r.ExitCode,
		Stdout:     string(r.Stdout),
		Stderr:     string(r.Stderr),
		DurationMs: r.Duration.Milliseconds(),
		ErrorType:  r.ErrorType,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

func summaryRecord(s *dispatch.Summary) SummaryRecord {
	rec := SummaryRecord{
		Type:       "summary",
		Outcome:    s.Outcome().String(),
		Total:      len(s.Results),
		Failed:     s.Failed,
		DurationMs: s.Duration.Milliseconds(),
	}
	if s.Failed > 0 {
		rec.Errors = s.Errors.Summary()
	}
	return rec
}

func (f *DefaultFormatter) emitJSON(summary *dispatch.Summary) error {
	enc := json.NewEncoder(f.stdout)
	for _, r := range summary.Results {
		if err := enc.Encode(hostRecord(r)); err != nil {
			return fmt.Errorf("failed to write JSON: %w", err)
		}
	}
	if err := enc.Encode(summaryRecord(summary)); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

type yamlDocument struct {
	Hosts   []HostRecord  `yaml:"hosts"`
	Summary SummaryRecord `yaml:"summary"`
}

func (f *DefaultFormatter) emitYAML(summary *dispatch.Summary) error {
	doc := yamlDocument{
		Hosts:   make([]HostRecord, 0, len(summary.Results)),
		Summary: summaryRecord(summary),
	}
	for _, r := range summary.Results {
		doc.Hosts = append(doc.Hosts, hostRecord(r))
	}

	enc := yaml.NewEncoder(f.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write YAML: %w", err)
	}
	return enc.Close()
}
