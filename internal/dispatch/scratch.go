package dispatch

import (
	"fmt"
	"os"
	"path/filepath"

	"xssh/internal/target"
)

// scratch is the private per-run directory holding captured host output
type scratch struct {
	dir string
}

func newScratch() (*scratch, error) {
	dir, err := os.MkdirTemp("", "xssh-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &scratch{dir: dir}, nil
}

// sinks returns the stdout and stderr capture paths for the host at index.
// The index prefix keeps hosts that sanitize to the same name apart.
func (s *scratch) sinks(index int, host string) (stdout, stderr string) {
	base := fmt.Sprintf("%03d-%s", index, target.Sanitize(host))
	return filepath.Join(s.dir, base+".out"), filepath.Join(s.dir, base+".err")
}

func (s *scratch) remove() error {
	return os.RemoveAll(s.dir)
}
