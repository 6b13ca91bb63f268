package core

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_SaveCreatesOnce(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	frozenClock(t, 1000)

	doc := posts.New(Attributes{"title": "hello"})
	require.NoError(t, doc.Save(context.Background()))

	inserts := drv.coll("posts").Calls(OperationInsert)
	require.Len(t, inserts, 1)
	assert.Empty(t, drv.coll("posts").Calls(OperationUpdate))
	assert.Equal(t, "posts-1", doc.ID())
	assert.False(t, doc.IsNew())

	want := Attributes{"title": "hello", "created_at": int64(1000), "updated_at": int64(1000)}
	if diff := cmp.Diff(want, inserts[0].attrs); diff != "" {
		t.Errorf("inserted attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestDocument_SecondSaveUpdates(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	advance := frozenClock(t, 1000)
	ctx := context.Background()

	doc := posts.New(Attributes{"title": "hello"})
	require.NoError(t, doc.Save(ctx))

	advance(1005)
	doc.Set("title", "hello again")
	require.NoError(t, doc.Save(ctx))

	coll := drv.coll("posts")
	assert.Len(t, coll.Calls(OperationInsert), 1, "no duplicate insert")
	updates := coll.Calls(OperationUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "posts-1", updates[0].id)
	assert.Equal(t, "hello again", updates[0].attrs["title"])

	assert.Equal(t, int64(1000), doc.Get(CreatedAtField), "created_at never changes")
	assert.Equal(t, int64(1005), doc.Get(UpdatedAtField))
}

func TestDocument_SaveWithExistingIDUpdates(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	frozenClock(t, 2000)

	doc := posts.Hydrate(Attributes{"_id": "p9", "title": "stored", "created_at": int64(10)})
	require.NoError(t, doc.Save(context.Background()))

	coll := drv.coll("posts")
	assert.Empty(t, coll.Calls(OperationInsert))
	require.Len(t, coll.Calls(OperationUpdate), 1)
	assert.Equal(t, int64(10), doc.Get(CreatedAtField))
	assert.Equal(t, int64(2000), doc.Get(UpdatedAtField))
}

func TestDocument_SaveFillsDefaults(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts", Defaults(Attributes{"status": "draft"})), WithConnection(conn))

	doc := posts.New(Attributes{"title": "hello"})
	require.NoError(t, doc.Save(context.Background()))

	inserts := drv.coll("posts").Calls(OperationInsert)
	require.Len(t, inserts, 1)
	assert.Equal(t, "draft", inserts[0].attrs["status"])
}

func TestDocument_SaveHookOrder(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	coll := drv.coll("posts")

	var order []string
	track := func(label string) HookFunc {
		return func(context.Context, *Document) error {
			order = append(order, label)
			if n := len(coll.Calls(OperationInsert)); n > 0 {
				order = append(order, "inserted")
			}
			return nil
		}
	}

	doc := posts.New()
	require.NoError(t, doc.Hooks(HookMap{
		"before:save":   {track("before:save")},
		"after:save":    {track("after:save")},
		"before:create": {track("before:create")},
		"after:create":  {track("after:create")},
		"before:update": {track("before:update")},
	}))

	require.NoError(t, doc.Save(context.Background()))

	want := []string{"before:save", "before:create", "after:create", "inserted", "after:save", "inserted"}
	assert.Equal(t, want, order)
}

func TestDocument_HookFailurePreventsStorageCall(t *testing.T) {
	boom := errors.New("validation failed")

	tests := []struct {
		name  string
		phase Phase
		act   Action
	}{
		{name: "before save", phase: PhaseBefore, act: ActionSave},
		{name: "before create", phase: PhaseBefore, act: ActionCreate},
		{name: "around create", phase: PhaseAround, act: ActionCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, drv := testConnection(t)
			posts := NewModel(NewSchema("posts"), WithConnection(conn))

			doc := posts.New(Attributes{"title": "x"})
			require.NoError(t, doc.Hook(tt.phase, tt.act, func(context.Context, *Document) error { return boom }))

			err := doc.Save(context.Background())
			assert.ErrorIs(t, err, boom)
			assert.Empty(t, drv.coll("posts").Calls(OperationInsert))
			assert.True(t, doc.IsNew())
		})
	}
}

func TestDocument_AfterHookFailureSurfaces(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	boom := errors.New("notify failed")

	doc := posts.New()
	doc.After(ActionCreate, func(context.Context, *Document) error { return boom })

	err := doc.Save(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, drv.coll("posts").Calls(OperationInsert), 1, "the insert already happened")
}

func TestDocument_StorageFailurePropagates(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	refused := errors.New("connection refused")
	drv.coll("posts").insertErr = refused

	var afterRan bool
	doc := posts.New()
	doc.After(ActionCreate, func(context.Context, *Document) error {
		afterRan = true
		return nil
	})

	err := doc.Save(context.Background())
	assert.ErrorIs(t, err, refused)
	assert.False(t, afterRan)
	assert.True(t, doc.IsNew())
}

func TestDocument_FlattenReferences(t *testing.T) {
	users := NewModel(NewSchema("users"))

	tests := []struct {
		name    string
		attrs   Attributes
		want    Attributes
		wantErr *ReferenceError
	}{
		{
			name:  "hydrated reference becomes its id",
			attrs: Attributes{"author": users.Hydrate(Attributes{"_id": "X", "name": "ann"})},
			want:  Attributes{"author": "X"},
		},
		{
			name:  "raw identifier is kept",
			attrs: Attributes{"author": "X"},
			want:  Attributes{"author": "X"},
		},
		{
			name:  "plain mapping with _id becomes its id",
			attrs: Attributes{"author": map[string]any{"_id": "X"}},
			want:  Attributes{"author": "X"},
		},
		{
			name: "sequence of references",
			attrs: Attributes{
				"author":  "X",
				"editors": []*Document{users.Hydrate(Attributes{"_id": "E1"}), users.Hydrate(Attributes{"_id": "E2"})},
			},
			want: Attributes{"author": "X", "editors": []any{"E1", "E2"}},
		},
		{
			name:    "missing reference",
			attrs:   Attributes{},
			wantErr: &ReferenceError{Field: "author", Index: -1},
		},
		{
			name:    "unsaved hydrated reference",
			attrs:   Attributes{"author": users.New(Attributes{"name": "ann"})},
			wantErr: &ReferenceError{Field: "author", Index: -1},
		},
		{
			name: "sequence element without id",
			attrs: Attributes{
				"author":  "X",
				"editors": []any{users.Hydrate(Attributes{"_id": "E1"}), nil},
			},
			wantErr: &ReferenceError{Field: "editors", Index: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts := NewModel(NewSchema("posts", Populate("author", users)))
			if _, ok := tt.attrs["editors"]; ok {
				posts = NewModel(NewSchema("posts", Populate("author", users), Populate("editors", users)))
			}
			doc := posts.New(tt.attrs)

			err := doc.flattenReferences()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, ErrReferenceFlatten)
				var refErr *ReferenceError
				require.ErrorAs(t, err, &refErr)
				assert.Equal(t, tt.wantErr, refErr)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, doc.Attributes()); diff != "" {
				t.Errorf("flattened attributes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDocument_SavePersistsReferenceID(t *testing.T) {
	conn, drv := testConnection(t)
	users := NewModel(NewSchema("users"), WithConnection(conn))
	posts := NewModel(NewSchema("posts", Populate("author", users)), WithConnection(conn))

	author := users.Hydrate(Attributes{"_id": "X", "name": "ann"})
	post := posts.New(Attributes{"title": "hello"})
	post.Set("author", author)

	require.NoError(t, post.Save(context.Background()))

	inserts := drv.coll("posts").Calls(OperationInsert)
	require.Len(t, inserts, 1)
	assert.Equal(t, "X", inserts[0].attrs["author"])
}

func TestDocument_ReferenceFailureBeforeStorage(t *testing.T) {
	conn, drv := testConnection(t)
	users := NewModel(NewSchema("users"), WithConnection(conn))
	posts := NewModel(NewSchema("posts", Populate("author", users)), WithConnection(conn))

	var hookRan bool
	post := posts.New(Attributes{"title": "orphan"})
	post.Before(ActionSave, func(context.Context, *Document) error {
		hookRan = true
		return nil
	})

	err := post.Save(context.Background())
	assert.ErrorIs(t, err, ErrReferenceFlatten)
	assert.False(t, hookRan)
	assert.Empty(t, drv.coll("posts").Calls(OperationInsert))
}

func TestDocument_Remove(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	ctx := context.Background()

	doc := posts.New(Attributes{"title": "bye"})
	require.NoError(t, doc.Save(ctx))

	var order []string
	doc.Before(ActionRemove, func(context.Context, *Document) error {
		order = append(order, "before")
		return nil
	})
	doc.After(ActionRemove, func(context.Context, *Document) error {
		order = append(order, "after")
		return nil
	})

	require.NoError(t, doc.Remove(ctx))

	removes := drv.coll("posts").Calls(OperationRemove)
	require.Len(t, removes, 1)
	assert.Equal(t, Criteria{IDField: "posts-1"}, removes[0].criteria)
	assert.Equal(t, []string{"before", "after"}, order)
	assert.Empty(t, drv.coll("posts").docs)
}

func TestDocument_RequiresID(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	doc := posts.New()

	assert.ErrorIs(t, doc.Remove(context.Background()), ErrInvalidArgument)
	assert.ErrorIs(t, doc.Update(context.Background()), ErrInvalidArgument)
	assert.Empty(t, drv.coll("posts").calls)
}

func TestDocument_NoConnection(t *testing.T) {
	previous := Default()
	SetDefault(nil)
	t.Cleanup(func() { SetDefault(previous) })

	posts := NewModel(NewSchema("posts"))
	err := posts.New().Save(context.Background())
	assert.ErrorIs(t, err, ErrNoConnection)

	_, err = posts.Find(context.Background())
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestDocument_UsesDefaultConnection(t *testing.T) {
	conn, drv := testConnection(t)
	previous := Default()
	SetDefault(conn)
	t.Cleanup(func() { SetDefault(previous) })

	posts := NewModel(NewSchema("posts"))
	require.NoError(t, posts.New().Save(context.Background()))
	assert.Len(t, drv.coll("posts").Calls(OperationInsert), 1)
}
