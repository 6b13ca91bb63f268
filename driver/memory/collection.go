package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/waigo/mongorito/core"
)

// idIndex is the implicit unique index every collection carries.
const idIndex = "_id_"

// state is the content of one collection, as kept in memory or written to
// its JSON file.
type state struct {
	Documents []core.Attributes `json:"documents"`
	Indexes   []core.IndexInfo  `json:"indexes"`
}

// Collection is a collection held in process memory, optionally mirrored to
// a JSON file.
type Collection struct {
	mu    sync.RWMutex
	name  string
	mem   *state
	store *fileStore
}

var _ core.Collection = (*Collection)(nil)

func (c *Collection) Name() string { return c.name }

// read runs fn against the current state.
func (c *Collection) read(ctx context.Context, fn func(*state) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return fn(c.mem)
	}
	return c.store.withLock(ctx, func() error {
		st, err := c.store.load()
		if err != nil {
			return err
		}
		return fn(st)
	})
}

// write runs fn against the current state and persists the result. fn must
// validate before it mutates.
func (c *Collection) write(ctx context.Context, fn func(*state) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return fn(c.mem)
	}
	return c.store.withLock(ctx, func() error {
		st, err := c.store.load()
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		return c.store.save(st)
	})
}

// ID accepts strings and values printing as one, such as uuid.UUID.
func (c *Collection) ID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%w: empty id", core.ErrInvalidArgument)
		}
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return nil, fmt.Errorf("%w: id must be a string, got %T", core.ErrInvalidArgument, value)
}

func (c *Collection) Insert(ctx context.Context, attrs core.Attributes) (core.Attributes, error) {
	doc := attrs.Clone()
	if doc == nil {
		doc = core.Attributes{}
	}
	if raw, ok := doc[core.IDField]; ok && raw != nil {
		id, err := c.ID(raw)
		if err != nil {
			return nil, err
		}
		doc[core.IDField] = id
	} else {
		doc[core.IDField] = uuid.NewString()
	}

	err := c.write(ctx, func(st *state) error {
		if err := checkUnique(st, doc, -1); err != nil {
			return err
		}
		st.Documents = append(st.Documents, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

func (c *Collection) UpdateByID(ctx context.Context, id any, attrs core.Attributes) (core.Result, error) {
	key, err := c.ID(id)
	if err != nil {
		return core.Result{}, err
	}
	doc := attrs.Clone()
	if doc == nil {
		doc = core.Attributes{}
	}
	doc[core.IDField] = key

	var res core.Result
	err = c.write(ctx, func(st *state) error {
		for i, stored := range st.Documents {
			if !equal(stored[core.IDField], key) {
				continue
			}
			if err := checkUnique(st, doc, i); err != nil {
				return err
			}
			res.Matched = 1
			if !equal(map[string]any(stored), map[string]any(doc)) {
				res.Modified = 1
			}
			st.Documents[i] = doc
			return nil
		}
		return nil
	})
	return res, err
}

func (c *Collection) Remove(ctx context.Context, filter core.Criteria) (core.Result, error) {
	var res core.Result
	err := c.write(ctx, func(st *state) error {
		kept := make([]core.Attributes, 0, len(st.Documents))
		for _, doc := range st.Documents {
			ok, err := match(doc, filter)
			if err != nil {
				return err
			}
			if !ok {
				kept = append(kept, doc)
			}
		}
		res.Deleted = int64(len(st.Documents) - len(kept))
		st.Documents = kept
		return nil
	})
	return res, err
}

func (c *Collection) Find(ctx context.Context, criteria core.Criteria, modifiers core.Modifiers) ([]core.Attributes, error) {
	var out []core.Attributes
	err := c.read(ctx, func(st *state) error {
		for _, doc := range st.Documents {
			ok, err := match(doc, criteria)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, doc.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(modifiers.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			return less(out[i], out[j], modifiers.Sort)
		})
	}
	if modifiers.Skip != nil && *modifiers.Skip > 0 {
		if *modifiers.Skip >= int64(len(out)) {
			return nil, nil
		}
		out = out[*modifiers.Skip:]
	}
	if modifiers.Limit != nil && *modifiers.Limit > 0 && *modifiers.Limit < int64(len(out)) {
		out = out[:*modifiers.Limit]
	}
	return out, nil
}

func (c *Collection) Count(ctx context.Context, criteria core.Criteria) (int64, error) {
	var n int64
	err := c.read(ctx, func(st *state) error {
		for _, doc := range st.Documents {
			ok, err := match(doc, criteria)
			if err != nil {
				return err
			}
			if ok {
				n++
			}
		}
		return nil
	})
	return n, err
}

// Index declares an index. Only unique indexes change behavior; creating an
// index that already exists under the same name is a no-op.
func (c *Collection) Index(ctx context.Context, keys []core.SortField, options core.IndexOptions) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: index needs at least one key", core.ErrInvalidArgument)
	}
	name := options.Name
	if name == "" {
		name = core.IndexName(keys)
	}
	info := core.IndexInfo{Name: name, Keys: append([]core.SortField(nil), keys...), Unique: options.Unique}

	err := c.write(ctx, func(st *state) error {
		for _, existing := range st.Indexes {
			if existing.Name == name {
				return nil
			}
		}
		if info.Unique {
			for i := range st.Documents {
				for j := i + 1; j < len(st.Documents); j++ {
					if sameKey(st.Documents[i], st.Documents[j], info.Keys) {
						return fmt.Errorf("%w: cannot build unique index %s", core.ErrDuplicateKey, name)
					}
				}
			}
		}
		st.Indexes = append(st.Indexes, info)
		return nil
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

func (c *Collection) Indexes(ctx context.Context) ([]core.IndexInfo, error) {
	out := []core.IndexInfo{{
		Name:   idIndex,
		Keys:   []core.SortField{{Field: core.IDField, Direction: core.Asc}},
		Unique: true,
	}}
	err := c.read(ctx, func(st *state) error {
		out = append(out, st.Indexes...)
		return nil
	})
	return out, err
}

// checkUnique reports ErrDuplicateKey when doc collides with a stored
// document other than the one at skip.
func checkUnique(st *state, doc core.Attributes, skip int) error {
	indexes := append([]core.IndexInfo{{Name: idIndex, Keys: []core.SortField{{Field: core.IDField}}, Unique: true}}, st.Indexes...)
	for _, idx := range indexes {
		if !idx.Unique {
			continue
		}
		for i, stored := range st.Documents {
			if i != skip && sameKey(stored, doc, idx.Keys) {
				return fmt.Errorf("%w: index %s", core.ErrDuplicateKey, idx.Name)
			}
		}
	}
	return nil
}

// sameKey compares two documents on the fields of an index. Missing fields
// compare as null.
func sameKey(a, b core.Attributes, keys []core.SortField) bool {
	for _, k := range keys {
		va, _ := lookup(a, k.Field)
		vb, _ := lookup(b, k.Field)
		if !equal(va, vb) {
			return false
		}
	}
	return true
}

// less orders documents by the sort fields. Missing values sort before any
// present value; values that do not compare keep their relative order.
func less(a, b core.Attributes, fields []core.SortField) bool {
	for _, f := range fields {
		va, okA := lookup(a, f.Field)
		vb, okB := lookup(b, f.Field)
		var c int
		switch {
		case !okA && !okB:
			continue
		case !okA:
			c = -1
		case !okB:
			c = 1
		default:
			c, _ = compare(va, vb)
		}
		if c == 0 {
			continue
		}
		if f.Direction == core.Desc {
			c = -c
		}
		return c < 0
	}
	return false
}
