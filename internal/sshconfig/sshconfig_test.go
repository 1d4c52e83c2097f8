package sshconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveMissingRoot(t *testing.T) {
	r := &Resolver{Home: t.TempDir()}
	assert.Empty(t, r.Resolve(filepath.Join(t.TempDir(), "nope")))
}

func TestResolveIncludeOrder(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, filepath.Join(dir, "config"), `
Host top
  include conf.d/*.conf
Include   extra
`)
	a := writeFile(t, filepath.Join(dir, "conf.d", "a.conf"), "Include nested\nHost a\n")
	b := writeFile(t, filepath.Join(dir, "conf.d", "b.conf"), "Host b\n")
	nested := writeFile(t, filepath.Join(dir, "conf.d", "nested"), "Host n\n")
	extra := writeFile(t, filepath.Join(dir, "extra"), "Host e\n")

	r := &Resolver{Home: dir}
	assert.Equal(t, []string{root, a, nested, b, extra}, r.Resolve(root))
}

func TestResolveHomeRelative(t *testing.T) {
	home := t.TempDir()
	root := writeFile(t, filepath.Join(t.TempDir(), "config"), "Include ~/.ssh/work\n")
	work := writeFile(t, filepath.Join(home, ".ssh", "work"), "Host w\n")

	r := &Resolver{Home: home}
	assert.Equal(t, []string{root, work}, r.Resolve(root))
}

func TestResolveEmptyGlob(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, filepath.Join(dir, "config"), "Include missing/*.conf\nInclude=absent\n")

	r := &Resolver{Home: dir}
	assert.Equal(t, []string{root}, r.Resolve(root))
}

func TestResolveCycle(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, filepath.Join(dir, "config"), "Include other\n")
	other := writeFile(t, filepath.Join(dir, "other"), "Include config\nInclude other\n")

	r := &Resolver{Home: dir}
	assert.Equal(t, []string{root, other}, r.Resolve(root))
}

func TestParseAliasesShareHostname(t *testing.T) {
	d := ParseReader(strings.NewReader(`
# comment
Host a b
    HostName h.example.com
    User root
`))
	for _, alias := range []string{"a", "b", "A"} {
		h, ok := d.Lookup(alias)
		require.True(t, ok, alias)
		assert.Equal(t, "h.example.com", h)
	}
}

func TestParseLastHostNameWins(t *testing.T) {
	d := ParseReader(strings.NewReader("Host a\n  HostName first\n  hostname=second\n"))
	h, ok := d.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "second", h)
}

func TestParseDefaultsToAlias(t *testing.T) {
	d := ParseReader(strings.NewReader("Host plain\n  Port 2222\n"))
	h, ok := d.Lookup("plain")
	require.True(t, ok)
	assert.Equal(t, "plain", h)
}

func TestParseWildcardsHidden(t *testing.T) {
	d := ParseReader(strings.NewReader(`
Host *
  ServerAliveInterval 30
Host *.internal db?
  User ops
Host web1 web2 !web3
  HostName 10.0.0.1
`))
	assert.Equal(t, []string{"web1", "web2"}, d.Aliases())
	assert.Equal(t, 2, d.Len())
	_, ok := d.Lookup("*.internal")
	assert.False(t, ok)
}

func TestParseMatchResetsBlock(t *testing.T) {
	d := ParseReader(strings.NewReader(`
Host a
  HostName one
Match host foo
  HostName ignored
Host b
`))
	h, _ := d.Lookup("a")
	assert.Equal(t, "one", h)
	h, _ = d.Lookup("b")
	assert.Equal(t, "b", h)
	assert.Equal(t, 2, d.Len())
}

func TestParseDuplicateAliasLastWins(t *testing.T) {
	d := ParseReader(strings.NewReader(`
Host a
  HostName old
Host c a
  HostName new
`))
	h, _ := d.Lookup("a")
	assert.Equal(t, "new", h)
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []string{"new"}, d.Hostnames())
}

func TestParseNoLeakAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, filepath.Join(dir, "first"), "Host a\n")
	second := writeFile(t, filepath.Join(dir, "second"), "HostName stray\nHost b\n  HostName bee\n")

	d := Parse([]string{first, filepath.Join(dir, "missing"), second})
	h, _ := d.Lookup("a")
	assert.Equal(t, "a", h)
	assert.Equal(t, []Entry{
		{Alias: "a", Hostname: "a"},
		{Alias: "b", Hostname: "bee"},
	}, d.Entries())
}

func TestParseCaseSensitiveKeys(t *testing.T) {
	d := ParseReader(strings.NewReader("Host Web\n  HostName upper\nHost web\n  HostName lower\n"))
	assert.Equal(t, 2, d.Len())
	h, _ := d.Lookup("Web")
	assert.Equal(t, "upper", h)
	h, _ = d.Lookup("web")
	assert.Equal(t, "lower", h)
	h, _ = d.Lookup("WEB")
	assert.Equal(t, "upper", h)
}
