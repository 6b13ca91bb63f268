// Package memory implements the mongorito storage collaborator in process
// memory.
//
// Two URL schemes are registered:
//
//	mem://<name>   collections live in memory; every connection to the same
//	               name shares the same data for the life of the process
//	file://<dir>   each collection is a JSON file under dir, locked with a
//	               lock file so that several processes may share it
//
// Criteria are evaluated in Go with MongoDB semantics, unique indexes are
// enforced and identifiers are UUID strings.
package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/waigo/mongorito/core"
)

func init() {
	core.RegisterDriver("mem", Open)
	core.RegisterDriver("file", Open)
}

var (
	databasesMutex sync.Mutex
	databaseList   = make(map[string]*Driver)
)

// Driver is a set of collections, held in memory or in a directory.
type Driver struct {
	mu          sync.Mutex
	dir         string
	collections map[string]*Collection
}

var _ core.Driver = (*Driver)(nil)

// Open opens the store named by a mem:// or file:// URL.
func Open(_ context.Context, url string) (core.Driver, error) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownScheme, url)
	}
	switch strings.ToLower(scheme) {
	case "mem":
		return Named(rest), nil
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("%w: file url needs a directory", core.ErrInvalidArgument)
		}
		return NewFileDriver(rest), nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownScheme, scheme)
	}
}

// New returns an anonymous in-memory store.
func New() *Driver {
	return &Driver{collections: make(map[string]*Collection)}
}

// Named returns the process-wide in-memory store called name, creating it on
// first use.
func Named(name string) *Driver {
	databasesMutex.Lock()
	defer databasesMutex.Unlock()
	if d, ok := databaseList[name]; ok {
		return d
	}
	d := New()
	databaseList[name] = d
	return d
}

// NewFileDriver returns a store persisting its collections under dir.
func NewFileDriver(dir string) *Driver {
	return &Driver{dir: dir, collections: make(map[string]*Collection)}
}

// Ping makes sure the backing directory, if any, exists.
func (d *Driver) Ping(context.Context) error {
	if d.dir == "" {
		return nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	return nil
}

// Close is a no-op: in-memory data outlives connections and file-backed
// collections hold no open files between calls.
func (d *Driver) Close(context.Context) error { return nil }

// Collection returns the named collection, creating it on first use.
func (d *Driver) Collection(name string) core.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.collections[name]; ok {
		return c
	}
	c := &Collection{name: name}
	if d.dir == "" {
		c.mem = &state{}
	} else {
		c.store = newFileStore(d.dir, name)
	}
	d.collections[name] = c
	return c
}
