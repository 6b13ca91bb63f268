package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// call records one storage call made against a fakeCollection.
type call struct {
	op        Operation
	id        any
	attrs     Attributes
	criteria  Criteria
	modifiers Modifiers
}

// fakeCollection keeps documents in memory and records every call. It only
// understands equality and $in, which is all the core tests need.
type fakeCollection struct {
	mu        sync.Mutex
	name      string
	docs      []Attributes
	calls     []call
	nextID    int
	insertErr error
	findErr   error
}

func (c *fakeCollection) Name() string { return c.name }

func (c *fakeCollection) record(cl call) {
	c.calls = append(c.calls, cl)
}

func (c *fakeCollection) Calls(op Operation) []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []call
	for _, cl := range c.calls {
		if cl.op == op {
			out = append(out, cl)
		}
	}
	return out
}

func (c *fakeCollection) Insert(_ context.Context, attrs Attributes) (Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call{op: OperationInsert, attrs: attrs.Clone()})
	if c.insertErr != nil {
		return nil, c.insertErr
	}
	c.nextID++
	stored := attrs.Clone()
	stored[IDField] = fmt.Sprintf("%s-%d", c.name, c.nextID)
	c.docs = append(c.docs, stored)
	return stored.Clone(), nil
}

func (c *fakeCollection) UpdateByID(_ context.Context, id any, attrs Attributes) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call{op: OperationUpdate, id: id, attrs: attrs.Clone()})
	for i, doc := range c.docs {
		if doc[IDField] == id {
			stored := attrs.Clone()
			stored[IDField] = id
			c.docs[i] = stored
			return Result{Matched: 1, Modified: 1}, nil
		}
	}
	return Result{}, nil
}

func (c *fakeCollection) Remove(_ context.Context, filter Criteria) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call{op: OperationRemove, criteria: filter.Clone()})
	kept := c.docs[:0]
	var deleted int64
	for _, doc := range c.docs {
		if fakeMatch(doc, filter) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return Result{Deleted: deleted}, nil
}

func (c *fakeCollection) Find(_ context.Context, criteria Criteria, modifiers Modifiers) ([]Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call{op: OperationFind, criteria: criteria.Clone(), modifiers: modifiers})
	if c.findErr != nil {
		return nil, c.findErr
	}
	var out []Attributes
	for _, doc := range c.docs {
		if fakeMatch(doc, criteria) {
			out = append(out, doc.Clone())
		}
	}
	if modifiers.Limit != nil && int64(len(out)) > *modifiers.Limit {
		out = out[:*modifiers.Limit]
	}
	return out, nil
}

func (c *fakeCollection) Count(_ context.Context, criteria Criteria) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call{op: OperationCount, criteria: criteria.Clone()})
	var n int64
	for _, doc := range c.docs {
		if fakeMatch(doc, criteria) {
			n++
		}
	}
	return n, nil
}

func (c *fakeCollection) Index(_ context.Context, keys []SortField, options IndexOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call{op: OperationIndex})
	return fmt.Sprintf("%s_idx", keys[0].Field), nil
}

func (c *fakeCollection) Indexes(context.Context) ([]IndexInfo, error) { return nil, nil }

func (c *fakeCollection) ID(value any) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil id", ErrInvalidArgument)
	}
	return fmt.Sprint(value), nil
}

func fakeMatch(doc Attributes, criteria Criteria) bool {
	for field, cond := range criteria {
		if ops, ok := OperatorMap(cond); ok {
			if in, ok := ops[OpIn]; ok {
				found := false
				for _, v := range ToSlice(in) {
					if doc[field] == v {
						found = true
					}
				}
				if !found {
					return false
				}
			}
			continue
		}
		if doc[field] != cond {
			return false
		}
	}
	return true
}

// fakeDriver hands out one fakeCollection per name.
type fakeDriver struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	pingErr     error
	closed      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{collections: make(map[string]*fakeCollection)}
}

func (d *fakeDriver) Ping(context.Context) error { return d.pingErr }

func (d *fakeDriver) Close(context.Context) error {
	d.closed = true
	return nil
}

func (d *fakeDriver) Collection(name string) Collection {
	return d.coll(name)
}

func (d *fakeDriver) coll(name string) *fakeCollection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = &fakeCollection{name: name}
		d.collections[name] = c
	}
	return c
}

// testConnection returns a connection over a fresh fake driver, keyed by
// the test name so memoized handles never leak between tests.
func testConnection(t *testing.T) (*Connection, *fakeDriver) {
	t.Helper()
	drv := newFakeDriver()
	conn := NewConnection("fake://"+t.Name(), drv)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn, drv
}

// frozenClock pins the timestamp clock for the duration of a test.
func frozenClock(t *testing.T, unix int64) func(int64) {
	t.Helper()
	current := unix
	now = func() time.Time { return time.Unix(current, 0) }
	t.Cleanup(func() { now = time.Now })
	return func(next int64) { current = next }
}
