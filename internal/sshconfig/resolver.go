// Package sshconfig discovers and parses OpenSSH client configuration files.
package sshconfig

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Resolver walks a root SSH config file and every file it pulls in through
// Include directives.
type Resolver struct {
	// Home replaces a leading "~" in Include patterns. Empty means the
	// invoking user's home directory.
	Home string
}

// NewResolver creates a resolver bound to the current user's home directory
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the ordered list of readable config files reachable from
// root, depth-first in the order the Include tokens and glob matches appear.
// A missing root yields an empty list and no error. Files that were already
// visited are skipped, so Include cycles terminate.
func (r *Resolver) Resolve(root string) []string {
	visited := make(map[string]bool)
	var files []string
	r.walk(r.expandHome(root), visited, &files)
	return files
}

func (r *Resolver) walk(path string, visited map[string]bool, files *[]string) {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	if visited[key] {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		// Missing or unreadable config is a normal state
		return
	}
	defer f.Close()

	if info, err := f.Stat(); err != nil || info.IsDir() {
		return
	}

	visited[key] = true
	*files = append(*files, path)

	baseDir := filepath.Dir(path)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		keyword, value := splitDirective(scanner.Text())
		if !strings.EqualFold(keyword, "include") {
			continue
		}

		for _, token := range strings.Fields(value) {
			for _, match := range r.expandInclude(token, baseDir) {
				r.walk(match, visited, files)
			}
		}
	}
}

// expandInclude turns one Include token into the files it names.
func (r *Resolver) expandInclude(token, baseDir string) []string {
	pattern := r.expandHome(token)
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	return matches
}

func (r *Resolver) expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home := r.Home
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return path
		}
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// splitDirective splits a config line into its keyword and the remaining
// value. Both "Key value" and "Key=value" forms are accepted. Comments and
// blank lines yield an empty keyword.
func splitDirective(line string) (keyword, value string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", ""
	}

	end := strings.IndexAny(line, " \t=")
	if end < 0 {
		return line, ""
	}

	keyword = line[:end]
	value = strings.TrimSpace(line[end:])
	value = strings.TrimSpace(strings.TrimPrefix(value, "="))
	return keyword, value
}
