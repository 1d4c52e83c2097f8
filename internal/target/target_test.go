package target

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"xssh/internal/sshconfig"
)

const fixture = `
Host *.internal
  User ops
Host web1 www
  HostName 10.0.0.1
Host web2
  HostName 10.0.0.2
Host DB-primary
Host db-replica
  HostName replica.example.com
`

func newTestMatcher() *Matcher {
	return NewMatcher(sshconfig.ParseReader(strings.NewReader(fixture)))
}

func TestSplitUser(t *testing.T) {
	tests := []struct {
		in, user, host string
	}{
		{"web", "", "web"},
		{"root@web", "root", "web"},
		{"a@b@web", "a@b", "web"},
		{"@web", "", "web"},
	}
	for _, tt := range tests {
		user, host := SplitUser(tt.in)
		assert.Equal(t, tt.user, user, tt.in)
		assert.Equal(t, tt.host, host, tt.in)
	}
}

func TestResolveSingle(t *testing.T) {
	set := newTestMatcher().Resolve("root@web2")
	assert.Equal(t, "root", set.User)
	assert.Equal(t, []string{"10.0.0.2"}, set.Hosts)
	assert.False(t, set.Fallback)
	assert.False(t, set.Multiple())
}

func TestResolveDedupAndSort(t *testing.T) {
	set := newTestMatcher().Resolve("w")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, set.Hosts)
	assert.True(t, set.Multiple())
}

func TestResolveCaseInsensitive(t *testing.T) {
	set := newTestMatcher().Resolve("db-")
	assert.Equal(t, []string{"DB-primary", "replica.example.com"}, set.Hosts)
}

func TestResolveRegex(t *testing.T) {
	set := newTestMatcher().Resolve("^web[0-9]$")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, set.Hosts)
}

func TestResolveInvalidRegexFallsBackToSubstring(t *testing.T) {
	m := NewMatcher(sshconfig.ParseReader(strings.NewReader("Host a(b\n")))
	set := m.Resolve("A(")
	assert.Equal(t, []string{"a(b"}, set.Hosts)
}

func TestResolveWildcardNeverMatches(t *testing.T) {
	set := newTestMatcher().Resolve("internal")
	assert.True(t, set.Fallback)
	assert.Equal(t, []string{"internal"}, set.Hosts)
}

func TestResolveFallbackLiteral(t *testing.T) {
	set := newTestMatcher().Resolve("me@10.9.9.9")
	assert.True(t, set.Fallback)
	assert.Equal(t, "me", set.User)
	assert.Equal(t, []string{"10.9.9.9"}, set.Hosts)

	set = NewMatcher(nil).Resolve("anything")
	assert.Equal(t, []string{"anything"}, set.Hosts)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "web-1.example_com", Sanitize("web-1.example_com"))
	assert.Equal(t, "fe80__1_eth0", Sanitize("fe80::1%eth0"))
	assert.Equal(t, "a_b_c", Sanitize("a/b c"))
}
