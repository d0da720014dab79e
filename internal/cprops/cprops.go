// Package cprops loads the compiler-properties document that describes the
// deployed compiler fleet: per-compiler executable paths, invocation
// options, type classification and grouping, plus per-library link
// metadata. The document is fetched once per process and memoized.
package cprops

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/fetch"
)

// Compiler is one discovered compiler from the properties document.
type Compiler struct {
	ID             string
	Exe            string
	Options        string
	Type           string // "" means gcc-like, "clang" means clang-like
	Group          string
	SupportsBinary bool
}

// Library is the link metadata for one library id.
type Library struct {
	ID          string
	Name        string
	Description string
	URL         string
	StaticLinks []string
	SharedLinks []string
}

// Cache fetches and parses the properties document on first use. Reset
// drops the parsed state so the next call re-fetches.
type Cache struct {
	url     string
	fetcher *fetch.Fetcher
	log     hclog.Logger

	// statExe reports whether a compiler executable exists; overridable
	// so tests can parse documents naming nonexistent paths.
	statExe func(path string) bool

	mu        sync.Mutex
	compilers map[string]*Compiler
	libraries map[string]*Library
}

// NewCache creates a properties cache backed by the document at url.
func NewCache(url string, fetcher *fetch.Fetcher, log hclog.Logger) *Cache {
	return &Cache{
		url:     url,
		fetcher: fetcher,
		log:     log,
		statExe: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Compilers returns the discovered compilers, keyed by id. Compilers that
// do not support binary output or whose executable is absent are excluded.
func (c *Cache) Compilers() (map[string]*Compiler, error) {
	if err := c.ensure(); err != nil {
		return nil, err
	}
	return c.compilers, nil
}

// Library returns the link metadata for a library id, if the document
// carries any.
func (c *Cache) Library(id string) (*Library, bool) {
	if err := c.ensure(); err != nil {
		return nil, false
	}
	lib, ok := c.libraries[id]
	return lib, ok
}

// Reset drops the memoized document.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compilers = nil
	c.libraries = nil
}

func (c *Cache) ensure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compilers != nil {
		return nil
	}

	var buf bytes.Buffer
	if err := c.fetcher.Fetch(c.url, &buf); err != nil {
		return err
	}
	compilers, libraries := parse(buf.String())

	kept := make(map[string]*Compiler, len(compilers))
	for id, comp := range compilers {
		switch {
		case !comp.SupportsBinary:
			c.log.Debug("dropping compiler without binary support", "compiler", id)
		case comp.Exe == "":
			c.log.Debug("dropping compiler without an executable", "compiler", id)
		case !c.statExe(comp.Exe):
			c.log.Debug("dropping compiler whose executable is absent", "compiler", id, "exe", comp.Exe)
		default:
			kept[id] = comp
		}
	}

	c.compilers = kept
	c.libraries = libraries
	return nil
}

// parse reads a java-style properties document with three key families:
// group.<id>.<field>, compiler.<id>.<field> and libs.<id>.<field>.
// Group fields seed defaults for the group's compilers; compiler fields
// override them.
func parse(doc string) (map[string]*Compiler, map[string]*Library) {
	compilers := make(map[string]*Compiler)
	libraries := make(map[string]*Library)
	groups := make(map[string]*Compiler) // group defaults, keyed by group id

	compilerAt := func(id string) *Compiler {
		if c, ok := compilers[id]; ok {
			return c
		}
		c := &Compiler{ID: id, SupportsBinary: true}
		compilers[id] = c
		return c
	}

	// First pass: groups, membership and library metadata.
	scanner := bufio.NewScanner(strings.NewReader(doc))
	var memberships []struct{ group, compiler string }
	for scanner.Scan() {
		key, field, val, ok := splitProperty(scanner.Text(), "group.")
		if ok {
			g, found := groups[key]
			if !found {
				g = &Compiler{Group: key, SupportsBinary: true}
				groups[key] = g
			}
			switch field {
			case "compilers":
				for _, id := range strings.Split(val, ":") {
					memberships = append(memberships, struct{ group, compiler string }{key, id})
				}
			case "options":
				g.Options = val
			case "compilerType":
				g.Type = val
			case "supportsBinary":
				g.SupportsBinary = val == "true"
			}
			continue
		}

		key, field, val, ok = splitProperty(scanner.Text(), "libs.")
		if !ok {
			continue
		}
		lib, found := libraries[key]
		if !found {
			lib = &Library{ID: key}
			libraries[key] = lib
		}
		switch field {
		case "name":
			lib.Name = val
		case "description":
			lib.Description = val
		case "url":
			lib.URL = val
		case "staticliblink":
			lib.StaticLinks = strings.Split(val, ":")
		case "liblink":
			lib.SharedLinks = strings.Split(val, ":")
		}
	}

	for _, m := range memberships {
		g := groups[m.group]
		comp := compilerAt(m.compiler)
		comp.Group = m.group
		comp.Options = g.Options
		comp.Type = g.Type
		comp.SupportsBinary = g.SupportsBinary
	}

	// Second pass: per-compiler fields override group defaults.
	scanner = bufio.NewScanner(strings.NewReader(doc))
	for scanner.Scan() {
		key, field, val, ok := splitProperty(scanner.Text(), "compiler.")
		if !ok {
			continue
		}
		comp := compilerAt(key)
		switch field {
		case "exe":
			comp.Exe = val
		case "options":
			comp.Options = val
		case "compilerType":
			comp.Type = val
		case "group":
			comp.Group = val
		case "supportsBinary":
			comp.SupportsBinary = val == "true"
		}
	}

	return compilers, libraries
}

// splitProperty splits "prefix<id>.<field>=<value>" into its parts.
func splitProperty(line, prefix string) (id, field, value string, ok bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", "", false
	}
	rest := strings.TrimPrefix(key, prefix)
	id, field, found = strings.Cut(rest, ".")
	if !found || id == "" {
		return "", "", "", false
	}
	return id, field, value, true
}

// DisplayName returns the library name to publish, preferring the
// human-readable name over the id.
func (l *Library) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.ID
}

// String implements fmt.Stringer for log output.
func (c *Compiler) String() string {
	return fmt.Sprintf("%s (%s)", c.ID, c.Exe)
}
