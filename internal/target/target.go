// Package target turns a user supplied host pattern into the concrete hosts
// a run will contact.
package target

import (
	"regexp"
	"sort"
	"strings"

	"xssh/internal/sshconfig"
)

// Directory is the read-only alias view the matcher needs
type Directory interface {
	Entries() []sshconfig.Entry
}

// Set is the sorted, de-duplicated list of hosts selected for one run
type Set struct {
	User     string   // Username split off a user@pattern input, may be empty
	Pattern  string   // Host pattern without the user part
	Hosts    []string // Canonical hostnames, or the literal pattern on fallback
	Fallback bool     // No alias matched and Pattern is used verbatim
}

// Multiple reports whether the set needs mass mode
func (s Set) Multiple() bool {
	return len(s.Hosts) > 1
}

// SplitUser splits "user@pattern" on the last '@'. Without '@' the user is
// empty and the whole input is the host pattern.
func SplitUser(pattern string) (user, host string) {
	i := strings.LastIndex(pattern, "@")
	if i < 0 {
		return "", pattern
	}
	return pattern[:i], pattern[i+1:]
}

// Matcher selects directory aliases by pattern
type Matcher struct {
	dir Directory
}

// NewMatcher creates a matcher over dir
func NewMatcher(dir Directory) *Matcher {
	return &Matcher{dir: dir}
}

// Resolve matches pattern (optionally prefixed with "user@") against every
// literal alias and returns their canonical hostnames. The host pattern is a
// case-insensitive regular expression; patterns that do not compile are
// matched as case-insensitive substrings. With no match the set holds the
// host pattern itself.
func (m *Matcher) Resolve(pattern string) Set {
	user, hostPattern := SplitUser(pattern)
	set := Set{User: user, Pattern: hostPattern}

	match := compile(hostPattern)
	seen := make(map[string]bool)
	if m.dir != nil && hostPattern != "" {
		for _, e := range m.dir.Entries() {
			if e.Wildcard || sshconfig.IsWildcard(e.Alias) || !match(e.Alias) {
				continue
			}
			if !seen[e.Hostname] {
				seen[e.Hostname] = true
				set.Hosts = append(set.Hosts, e.Hostname)
			}
		}
	}

	if len(set.Hosts) == 0 {
		set.Hosts = []string{hostPattern}
		set.Fallback = true
		return set
	}

	sort.Strings(set.Hosts)
	return set
}

func compile(pattern string) func(string) bool {
	if re, err := regexp.Compile("(?i)" + pattern); err == nil {
		return re.MatchString
	}
	lower := strings.ToLower(pattern)
	return func(alias string) bool {
		return strings.Contains(strings.ToLower(alias), lower)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Sanitize makes a host identifier safe to use as a file name
func Sanitize(host string) string {
	return unsafeChars.ReplaceAllString(host, "_")
}
