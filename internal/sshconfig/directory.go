package sshconfig

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"
)

// Entry maps one Host alias to the hostname it connects to
type Entry struct {
	Alias    string // Alias as written in the Host line
	Hostname string // HostName override, or the alias itself
	Wildcard bool   // Alias contains '*' or '?'
}

// Directory is the alias to hostname mapping built from one or more config
// files. It is read-only once Parse returns.
type Directory struct {
	entries []Entry
	index   map[string]int // alias -> position in entries
}

func newDirectory() *Directory {
	return &Directory{index: make(map[string]int)}
}

// Parse reads the given files in order and builds a Directory. Files that
// cannot be opened are skipped.
func Parse(files []string) *Directory {
	p := &parser{dir: newDirectory()}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		p.consume(f)
		f.Close()
	}
	return p.dir
}

// ParseReader builds a Directory from a single config stream
func ParseReader(r io.Reader) *Directory {
	p := &parser{dir: newDirectory()}
	p.consume(r)
	return p.dir
}

// Lookup returns the hostname for alias. An exact match is preferred,
// otherwise the first alias equal under case folding is used.
func (d *Directory) Lookup(alias string) (string, bool) {
	if i, ok := d.index[alias]; ok && !d.entries[i].Wildcard {
		return d.entries[i].Hostname, true
	}
	for _, e := range d.entries {
		if !e.Wildcard && strings.EqualFold(e.Alias, alias) {
			return e.Hostname, true
		}
	}
	return "", false
}

// Entries returns the literal (non-wildcard) entries sorted by alias
func (d *Directory) Entries() []Entry {
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		if !e.Wildcard {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Aliases returns the literal aliases, sorted
func (d *Directory) Aliases() []string {
	entries := d.Entries()
	aliases := make([]string, len(entries))
	for i, e := range entries {
		aliases[i] = e.Alias
	}
	return aliases
}

// Hostnames returns the distinct canonical hostnames of literal aliases, sorted
func (d *Directory) Hostnames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range d.entries {
		if e.Wildcard || seen[e.Hostname] {
			continue
		}
		seen[e.Hostname] = true
		names = append(names, e.Hostname)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of literal aliases
func (d *Directory) Len() int {
	n := 0
	for _, e := range d.entries {
		if !e.Wildcard {
			n++
		}
	}
	return n
}

func (d *Directory) put(alias, hostname string) {
	e := Entry{Alias: alias, Hostname: hostname, Wildcard: IsWildcard(alias)}
	if i, ok := d.index[alias]; ok {
		d.entries[i] = e
		return
	}
	d.index[alias] = len(d.entries)
	d.entries = append(d.entries, e)
}

// IsWildcard reports whether a Host token is a pattern rather than a name.
// Negated tokens ("!name") only exclude and never name a host.
func IsWildcard(alias string) bool {
	return strings.ContainsAny(alias, "*?") || strings.HasPrefix(alias, "!")
}

// parser is the block state machine. A block opens on a Host line, collects
// HostName overrides, and is committed when the next Host or Match line
// arrives, at the end of a file, or at the end of input.
type parser struct {
	dir      *Directory
	pending  []string
	override string
	inBlock  bool
}

func (p *parser) consume(r io.Reader) {
	// A block never spans two files
	p.flush()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		keyword, value := splitDirective(scanner.Text())
		switch strings.ToLower(keyword) {
		case "":
			continue
		case "host":
			p.flush()
			p.inBlock = true
			for _, token := range strings.Fields(value) {
				if token != "*" {
					p.pending = append(p.pending, token)
				}
			}
		case "match":
			p.flush()
			p.inBlock = true
		case "hostname":
			if p.inBlock {
				if fields := strings.Fields(value); len(fields) > 0 {
					p.override = fields[0]
				}
			}
		}
	}

	p.flush()
}

func (p *parser) flush() {
	for _, alias := range p.pending {
		hostname := alias
		if p.override != "" {
			hostname = p.override
		}
		p.dir.put(alias, hostname)
	}
	p.pending = nil
	p.override = ""
	p.inBlock = false
}
